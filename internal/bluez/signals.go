package bluez

import (
	"github.com/godbus/dbus/v5"

	"github.com/moffa90/go-nrfdfu/dfu"
)

const (
	propertiesChanged = propsIface + ".PropertiesChanged"
	interfacesAdded   = objManagerIface + ".InterfacesAdded"
	interfacesRemoved = objManagerIface + ".InterfacesRemoved"
)

// apply updates the tree from a BlueZ signal and returns the events it
// implies.
func (t *objectTree) apply(sig *dbus.Signal) []dfu.Event {
	switch sig.Name {
	case propertiesChanged:
		if len(sig.Body) < 2 || !t.owns(sig.Path) {
			return nil
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		return t.propertiesChanged(sig.Path, iface, changed)

	case interfacesAdded:
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		if ifaces != nil {
			t.addInterfaces(path, ifaces)
		}

	case interfacesRemoved:
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		t.removeInterfaces(path, ifaces)
	}
	return nil
}

func (t *objectTree) propertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) []dfu.Event {
	switch iface {
	case deviceIface:
		d, ok := t.devices[path]
		if !ok {
			// Properties can change before InterfacesAdded is seen.
			d = &device{}
			d.address, _ = AddressFromPath(path)
			t.devices[path] = d
		}

		var events []dfu.Event
		if v, ok := changed["ServicesResolved"].Value().(bool); ok {
			if v && !d.servicesResolved {
				events = append(events, dfu.Event{Kind: dfu.DeviceConnected, Address: t.addressOf(path)})
			}
			d.servicesResolved = v
		}
		if v, ok := changed["Connected"].Value().(bool); ok && !v {
			d.servicesResolved = false
			events = append(events, dfu.Event{Kind: dfu.DeviceDisconnected, Address: t.addressOf(path)})
		}
		return events

	case charIface:
		c, ok := t.chars[path]
		if !ok {
			return nil
		}
		value, ok := changed["Value"].Value().([]byte)
		if !ok {
			return nil
		}
		return []dfu.Event{{
			Kind:           dfu.ValueChanged,
			Address:        t.addressOf(c.device),
			Characteristic: c.uuid,
			Value:          value,
		}}
	}
	return nil
}
