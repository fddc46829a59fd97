package sharing

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest          = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmSettingsPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	nmIface         = "org.freedesktop.NetworkManager"
	nmSettingsIface = "org.freedesktop.NetworkManager.Settings"
	nmActiveIface   = "org.freedesktop.NetworkManager.Connection.Active"
	nmConnIface     = "org.freedesktop.NetworkManager.Settings.Connection"
)

// nmBus implements nmAPI against the real NetworkManager system bus.
type nmBus struct {
	conn *dbus.Conn
}

func dialNetworkManager() (nmAPI, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus unavailable: %w", err)
	}
	return &nmBus{conn: conn}, nil
}

func (b *nmBus) Permissions(ctx context.Context) (map[string]string, error) {
	var perms map[string]string
	obj := b.conn.Object(nmDest, nmPath)
	if err := obj.CallWithContext(ctx, nmIface+".GetPermissions", 0).Store(&perms); err != nil {
		return nil, fmt.Errorf("GetPermissions: %w", err)
	}
	return perms, nil
}

func (b *nmBus) ActiveConnections(ctx context.Context) ([]activeConnection, error) {
	obj := b.conn.Object(nmDest, nmPath)
	prop, err := obj.GetProperty(nmIface + ".ActiveConnections")
	if err != nil {
		return nil, fmt.Errorf("ActiveConnections property: %w", err)
	}
	paths, ok := prop.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, fmt.Errorf("unexpected ActiveConnections type %T", prop.Value())
	}

	conns := make([]activeConnection, 0, len(paths))
	for _, path := range paths {
		active := b.conn.Object(nmDest, path)

		idProp, err := active.GetProperty(nmActiveIface + ".Id")
		if err != nil {
			// Connection may have gone away between the list and the read
			continue
		}
		id, _ := idProp.Value().(string)

		stateProp, err := active.GetProperty(nmActiveIface + ".State")
		if err != nil {
			continue
		}
		state, _ := stateProp.Value().(uint32)

		conns = append(conns, activeConnection{Path: string(path), ID: id, State: state})
	}
	return conns, nil
}

func (b *nmBus) ConnectionPathByID(ctx context.Context, id string) (string, error) {
	var paths []dbus.ObjectPath
	settings := b.conn.Object(nmDest, nmSettingsPath)
	if err := settings.CallWithContext(ctx, nmSettingsIface+".ListConnections", 0).Store(&paths); err != nil {
		return "", fmt.Errorf("ListConnections: %w", err)
	}

	for _, path := range paths {
		var cfg map[string]map[string]dbus.Variant
		obj := b.conn.Object(nmDest, path)
		if err := obj.CallWithContext(ctx, nmConnIface+".GetSettings", 0).Store(&cfg); err != nil {
			continue
		}
		if connID, ok := cfg["connection"]["id"]; ok {
			if name, _ := connID.Value().(string); name == id {
				return string(path), nil
			}
		}
	}
	return "", fmt.Errorf("no connection named %q", id)
}

func (b *nmBus) Activate(ctx context.Context, settingsPath string) error {
	obj := b.conn.Object(nmDest, nmPath)
	// Let NetworkManager pick the device and specific object
	call := obj.CallWithContext(ctx, nmIface+".ActivateConnection", 0,
		dbus.ObjectPath(settingsPath), dbus.ObjectPath("/"), dbus.ObjectPath("/"))
	if call.Err != nil {
		return fmt.Errorf("ActivateConnection: %w", call.Err)
	}
	return nil
}

func (b *nmBus) Deactivate(ctx context.Context, activePath string) error {
	obj := b.conn.Object(nmDest, nmPath)
	call := obj.CallWithContext(ctx, nmIface+".DeactivateConnection", 0, dbus.ObjectPath(activePath))
	if call.Err != nil {
		return fmt.Errorf("DeactivateConnection: %w", call.Err)
	}
	return nil
}
