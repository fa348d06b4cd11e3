// Package directory is a file-backed device directory. Devices are indexed
// by foreign source and foreign id ("dc1" + "topology_pod-1_node-101") and by
// every device or interface address. Interface matches resolve to a
// composite DeviceID carrying the interface id as its Component.
package directory
