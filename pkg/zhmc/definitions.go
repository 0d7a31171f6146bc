package zhmc

// ResourceDefinition is the fixed per-type configuration every resource
// class plugs into. The manager/resource core knows nothing about specific
// resource types beyond this contract; type-specific operations are free
// functions over the generic resource handle (see ops.go).
type ResourceDefinition struct {
	// Class is the class tag used in filters and notifications.
	Class string
	// BaseURI is the listing/creation endpoint. A "{parent}" placeholder
	// is resolved against the parent resource's URI.
	BaseURI string
	// ListField is the field of the list response holding the entry array.
	ListField string
	// OIDProp, URIProp and NameProp name the property keys serving as
	// object id, URI and display name for this resource type.
	OIDProp string
	URIProp string
	NameProp string
	// QueryProps are the property names the server-side list operation
	// accepts as filter query parameters.
	QueryProps []string
	// CaseInsensitiveNames marks resource types whose names are matched
	// case-insensitively.
	CaseInsensitiveNames bool
	// ListHasName is false for resource types without unique names (e.g.
	// storage volumes); those are exempt from name caching.
	ListHasName bool
}

// ConsoleURI is the URI of the console singleton, the parent scope of all
// console-rooted resource classes.
const ConsoleURI = "/api/console"

const classCPC = "cpc"

// consoleChildClasses are the classes whose managers hang off the console
// singleton; inventory notifications for them resolve to the console scope.
var consoleChildClasses = map[string]bool{
	"storage-group": true,
	"user":          true,
}

// Built-in resource definitions.
var (
	ConsoleDefinition = ResourceDefinition{
		Class:       "console",
		BaseURI:     "/api/consoles",
		ListField:   "consoles",
		OIDProp:     "object-id",
		URIProp:     "object-uri",
		NameProp:    "name",
		QueryProps:  []string{"name"},
		ListHasName: true,
	}

	CPCDefinition = ResourceDefinition{
		Class:       classCPC,
		BaseURI:     "/api/cpcs",
		ListField:   "cpcs",
		OIDProp:     "object-id",
		URIProp:     "object-uri",
		NameProp:    "name",
		QueryProps:  []string{"name"},
		ListHasName: true,
	}

	PartitionDefinition = ResourceDefinition{
		Class:       "partition",
		BaseURI:     "{parent}/partitions",
		ListField:   "partitions",
		OIDProp:     "object-id",
		URIProp:     "object-uri",
		NameProp:    "name",
		QueryProps:  []string{"name", "status"},
		ListHasName: true,
	}

	AdapterDefinition = ResourceDefinition{
		Class:       "adapter",
		BaseURI:     "{parent}/adapters",
		ListField:   "adapters",
		OIDProp:     "object-id",
		URIProp:     "object-uri",
		NameProp:    "name",
		QueryProps:  []string{"name", "adapter-id"},
		ListHasName: true,
	}

	// NICs are element resources of a partition.
	NicDefinition = ResourceDefinition{
		Class:       "nic",
		BaseURI:     "{parent}/nics",
		ListField:   "nics",
		OIDProp:     "element-id",
		URIProp:     "element-uri",
		NameProp:    "name",
		QueryProps:  []string{"name"},
		ListHasName: true,
	}

	StorageGroupDefinition = ResourceDefinition{
		Class:       "storage-group",
		BaseURI:     "{parent}/storage-groups",
		ListField:   "storage-groups",
		OIDProp:     "object-id",
		URIProp:     "object-uri",
		NameProp:    "name",
		QueryProps:  []string{"name", "fulfillment-state"},
		ListHasName: true,
	}

	// Storage volumes have no unique names and are exempt from name
	// caching.
	StorageVolumeDefinition = ResourceDefinition{
		Class:       "storage-volume",
		BaseURI:     "{parent}/storage-volumes",
		ListField:   "storage-volumes",
		OIDProp:     "element-id",
		URIProp:     "element-uri",
		NameProp:    "name",
		QueryProps:  nil,
		ListHasName: false,
	}

	// User names are matched case-insensitively.
	UserDefinition = ResourceDefinition{
		Class:                "user",
		BaseURI:              "{parent}/users",
		ListField:            "users",
		OIDProp:              "object-id",
		URIProp:              "object-uri",
		NameProp:             "name",
		QueryProps:           []string{"name"},
		CaseInsensitiveNames: true,
		ListHasName:          true,
	}
)

// PartitionsOf returns the partition manager scoped to a CPC.
func PartitionsOf(cpc *Resource) *Manager {
	return cpc.manager.client.ManagerFor(PartitionDefinition, cpc)
}

// AdaptersOf returns the adapter manager scoped to a CPC.
func AdaptersOf(cpc *Resource) *Manager {
	return cpc.manager.client.ManagerFor(AdapterDefinition, cpc)
}

// NicsOf returns the NIC manager scoped to a partition.
func NicsOf(partition *Resource) *Manager {
	return partition.manager.client.ManagerFor(NicDefinition, partition)
}

// StorageGroupsOf returns the storage group manager scoped to a console.
func StorageGroupsOf(console *Resource) *Manager {
	return console.manager.client.ManagerFor(StorageGroupDefinition, console)
}

// StorageVolumesOf returns the storage volume manager scoped to a storage
// group.
func StorageVolumesOf(sg *Resource) *Manager {
	return sg.manager.client.ManagerFor(StorageVolumeDefinition, sg)
}

// UsersOf returns the user manager scoped to a console.
func UsersOf(console *Resource) *Manager {
	return console.manager.client.ManagerFor(UserDefinition, console)
}
