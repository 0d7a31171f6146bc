package main

import (
	"github.com/zhmcclient/zhmc-go/internal/cli"
)

func main() {
	cli.Execute()
}
