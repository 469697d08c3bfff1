// Package bluez implements dfu.ConnectionManager on top of BlueZ over the
// system D-Bus.
//
// BlueZ exposes every adapter, device and GATT characteristic as a D-Bus
// object. The manager mirrors the objects under one adapter, turns their
// PropertiesChanged signals into dfu events, and runs blocking method calls
// on a worker goroutine so callers never wait for the radio.
package bluez

import (
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/moffa90/go-nrfdfu/dfu"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	charIface       = "org.bluez.GattCharacteristic1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	devicePrefix = "dev_"
)

// managedObjects is the reply of ObjectManager.GetManagedObjects.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// AdapterPath returns the object path of a local adapter such as "hci0".
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath returns the object path BlueZ uses for address under adapter.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return adapter + "/" + devicePrefix + dbus.ObjectPath(strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

// AddressFromPath extracts the device address from a device object path or
// any object below it.
func AddressFromPath(path dbus.ObjectPath) (string, bool) {
	dev, ok := deviceOf(path)
	if !ok {
		return "", false
	}
	s := string(dev)
	name := s[strings.LastIndexByte(s, '/')+1+len(devicePrefix):]
	if len(name) != 17 {
		return "", false
	}
	return strings.ReplaceAll(name, "_", ":"), true
}

// deviceOf trims a characteristic or service path to its device path.
func deviceOf(path dbus.ObjectPath) (dbus.ObjectPath, bool) {
	s := string(path)
	i := strings.Index(s, "/"+devicePrefix)
	if i < 0 {
		return "", false
	}
	if j := strings.IndexByte(s[i+1:], '/'); j >= 0 {
		s = s[:i+1+j]
	}
	return dbus.ObjectPath(s), true
}

type device struct {
	address          string
	servicesResolved bool
}

type characteristic struct {
	device          dbus.ObjectPath
	uuid            uuid.UUID
	withoutResponse bool
}

// objectTree mirrors the BlueZ objects below one adapter.
type objectTree struct {
	adapter dbus.ObjectPath
	devices map[dbus.ObjectPath]*device
	chars   map[dbus.ObjectPath]*characteristic
}

func newObjectTree(adapter dbus.ObjectPath) *objectTree {
	return &objectTree{
		adapter: adapter,
		devices: make(map[dbus.ObjectPath]*device),
		chars:   make(map[dbus.ObjectPath]*characteristic),
	}
}

func (t *objectTree) owns(path dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(t.adapter)+"/")
}

// load replaces the tree with a GetManagedObjects snapshot.
func (t *objectTree) load(objs managedObjects) {
	clear(t.devices)
	clear(t.chars)
	for path, ifaces := range objs {
		t.addInterfaces(path, ifaces)
	}
}

func (t *objectTree) addInterfaces(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) {
	if !t.owns(path) {
		return
	}

	if props, ok := ifaces[deviceIface]; ok {
		d := &device{}
		if v, ok := props["Address"].Value().(string); ok {
			d.address = v
		} else if addr, ok := AddressFromPath(path); ok {
			d.address = addr
		}
		d.servicesResolved, _ = props["ServicesResolved"].Value().(bool)
		t.devices[path] = d
	}

	if props, ok := ifaces[charIface]; ok {
		s, _ := props["UUID"].Value().(string)
		id, err := uuid.Parse(s)
		if err != nil {
			return
		}
		dev, ok := deviceOf(path)
		if !ok {
			return
		}
		flags, _ := props["Flags"].Value().([]string)
		t.chars[path] = &characteristic{
			device: dev,
			uuid:   id,
			withoutResponse: slices.Contains(flags, "write-without-response") &&
				!slices.Contains(flags, "write"),
		}
	}
}

func (t *objectTree) removeInterfaces(path dbus.ObjectPath, ifaces []string) {
	for _, iface := range ifaces {
		switch iface {
		case deviceIface:
			delete(t.devices, path)
			for p, c := range t.chars {
				if c.device == path {
					delete(t.chars, p)
				}
			}
		case charIface:
			delete(t.chars, path)
		}
	}
}

func (t *objectTree) device(address string) (dbus.ObjectPath, *device, bool) {
	path := DevicePath(t.adapter, address)
	d, ok := t.devices[path]
	return path, d, ok
}

// characteristic finds a characteristic of a device by UUID.
func (t *objectTree) characteristic(address string, id uuid.UUID) (dbus.ObjectPath, *characteristic, bool) {
	dev := DevicePath(t.adapter, address)
	for path, c := range t.chars {
		if c.device == dev && c.uuid == id {
			return path, c, true
		}
	}
	return "", nil, false
}

// accessoryOf reports the accessory a bootloader address belongs to, if that
// accessory is known to the adapter.
func (t *objectTree) accessoryOf(address string) (string, bool) {
	accessory, err := dfu.AccessoryAddress(address)
	if err != nil {
		return "", false
	}
	_, d, ok := t.device(accessory)
	if !ok {
		return "", false
	}
	if d.address != "" {
		accessory = d.address
	}
	return accessory, true
}

func (t *objectTree) addressOf(dev dbus.ObjectPath) string {
	if d, ok := t.devices[dev]; ok && d.address != "" {
		return d.address
	}
	addr, _ := AddressFromPath(dev)
	return addr
}
