/*
Package manifest is the Manifest Accessor: read-only typed access to a
validated JSON manifest split across two files — global settings and a
CTID-keyed map of ContainerSpec — loaded once at process start.

	m, _ := manifest.Load("/etc/phoenix/global.json", "/etc/phoenix/lxc_configs.json")
	spec, err := m.Get(950)
	for _, ctid := range m.AllCTIDs() { ... } // ascending, templates-first by convention

The accessor never traverses raw JSON outside this package; every other
component asks it for a typed ContainerSpec or GlobalSettings field.
*/
package manifest
