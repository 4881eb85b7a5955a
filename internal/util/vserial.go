// Package util provides helpers for virtual serial ports backed by PTYs.
package util

import (
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
)

// VirtualPort is one PTY pair. The master side plays the device; Path is
// what a serial client opens.
type VirtualPort struct {
	Master *os.File
	Slave  *os.File
	Path   string
}

// VirtualSerialManager manages the lifecycle of PTY-backed virtual serial ports.
type VirtualSerialManager struct {
	mu     sync.Mutex
	ports  []*VirtualPort
	links  []string
	closed bool
}

// NewVirtualSerialManager initializes an empty manager.
func NewVirtualSerialManager() *VirtualSerialManager {
	return &VirtualSerialManager{}
}

// CreatePort opens a PTY pair. When link is set, a symlink to the slave is
// created there and becomes the port path.
func (m *VirtualSerialManager) CreatePort(link string) (*VirtualPort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("virtual serial manager closed")
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}
	vp := &VirtualPort{Master: master, Slave: slave, Path: slave.Name()}

	if link != "" {
		_ = os.Remove(link)
		if err := os.Symlink(slave.Name(), link); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("failed to link %s: %w", link, err)
		}
		m.links = append(m.links, link)
		vp.Path = link
	}

	Info("[virt-serial] created %s -> %s", vp.Path, slave.Name())
	m.ports = append(m.ports, vp)
	return vp, nil
}

// Cleanup closes all ports and removes created links.
func (m *VirtualSerialManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for _, vp := range m.ports {
		if err := vp.Master.Close(); err != nil {
			Warn("[virt-serial] close master %s: %v", vp.Path, err)
		}
		_ = vp.Slave.Close()
	}
	for _, path := range m.links {
		if _, err := os.Lstat(path); err == nil {
			_ = os.Remove(path)
			Debug("[virt-serial] removed link: %s", path)
		}
	}
	Info("[virt-serial] cleanup complete (%d ports)", len(m.ports))
}
