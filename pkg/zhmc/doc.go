// Package zhmc is a client library for the Web Services API of a mainframe
// hardware management console (HMC).
//
// A Session holds the HTTP connection and authentication state; a Client on
// top of it owns the managers for all resource scopes. Managers list,
// filter and create resources; Resource objects cache remote properties
// with lazy full-property retrieval.
//
// Listing is served from up to three tiers: an auto-update live list kept
// consistent by push notifications, a name→URI cache with a time-to-live,
// and a filtered server round trip. Enabling auto-update on a resource or
// manager subscribes the session to the HMC's object-notification topic;
// property, status and inventory changes are then applied to the local
// caches asynchronously, without re-polling.
package zhmc
