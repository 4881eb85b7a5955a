package permission

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/util"
)

// GrantAll answers every request with a grant. Used headless and in tests.
type GrantAll struct{}

// Request implements Platform.
func (GrantAll) Request(d device.Descriptor, token Token, reply func(Event)) error {
	go reply(Event{Token: token, Device: &d, Granted: true})
	return nil
}

// AccessPlatform grants a request when the current user can open the port
// node for reading and writing, as udev group membership would allow.
type AccessPlatform struct{}

// Request implements Platform.
func (AccessPlatform) Request(d device.Descriptor, token Token, reply func(Event)) error {
	go func() {
		err := checkAccess(d.Path)
		if err != nil {
			util.Warn("[permission] no access to %s: %v", d.Path, err)
		}
		reply(Event{Token: token, Device: &d, Granted: err == nil})
	}()
	return nil
}

// PromptPlatform asks an operator on a terminal. Prompts are serialized.
type PromptPlatform struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptPlatform creates a prompt reading answers from in.
func NewPromptPlatform(in io.Reader, out io.Writer) *PromptPlatform {
	return &PromptPlatform{in: bufio.NewReader(in), out: out}
}

// Request implements Platform.
func (p *PromptPlatform) Request(d device.Descriptor, token Token, reply func(Event)) error {
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.out, "Allow access to %s %s? [y/N] ", d, d.Product)
		answer, err := p.in.ReadString('\n')
		if err != nil && answer == "" {
			util.Warn("[permission] prompt aborted: %v", err)
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		reply(Event{Token: token, Device: &d, Granted: answer == "y" || answer == "yes"})
	}()
	return nil
}
