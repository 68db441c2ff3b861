// Package deobf restores string constants hidden by the constants
// protector. It locates the protector's initializer and decoder by shape,
// runs the initializer once in the selective interpreter, and replaces
// every recognized decoder call site with the decoded literal.
package deobf

import (
	"errors"
	"fmt"

	"github.com/chazu/cildecode/pkg/cil"
	"github.com/chazu/cildecode/pkg/codec"
	"github.com/chazu/cildecode/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("cildecode.deobf")

var (
	// ErrNotInitialized is returned by decoding before Initialize.
	ErrNotInitialized = errors.New("initializer has not run")
	// ErrInitializer wraps a failure of the initializer routine.
	ErrInitializer = errors.New("initializer failed")
	// ErrNoText means the decoder returned something other than a string.
	ErrNoText = errors.New("decoder produced no text")
)

// Options configure a Deobfuscator.
type Options struct {
	Codec codec.Codec // nil means codec.Default
	VM    vm.Config
}

// Deobfuscator holds the decode session of one module: its resolved
// members and the machine whose heap and statics the initializer fills.
// Independent modules use independent Deobfuscators.
type Deobfuscator struct {
	module      *cil.Module
	members     *Members
	codec       codec.Codec
	machine     *vm.Machine
	initialized bool
}

// New resolves the protector's members and prepares the shim table. It
// fails with ErrUnsupportedSample before anything is executed or patched.
func New(mod *cil.Module, opts Options) (*Deobfuscator, error) {
	c := opts.Codec
	if c == nil {
		var err error
		if c, err = codec.Lookup(codec.Default); err != nil {
			return nil, err
		}
	}
	members, err := Resolve(mod)
	if err != nil {
		return nil, err
	}
	d := &Deobfuscator{
		module:  mod,
		members: members,
		codec:   c,
		machine: vm.NewMachine(mod, opts.VM),
	}
	d.installShims(d.machine.Shims)
	return d, nil
}

// Members returns the resolved protector members.
func (d *Deobfuscator) Members() *Members { return d.members }

// Machine returns the interpreter of this session.
func (d *Deobfuscator) Machine() *vm.Machine { return d.machine }

// Initialize runs the initializer and freezes static storage. It runs at
// most once; later calls return nil.
func (d *Deobfuscator) Initialize() error {
	if d.initialized {
		return nil
	}
	log.Infof("running initializer %s", d.members.Initializer.FullName())
	if _, err := d.machine.Call(d.members.Initializer, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInitializer, d.members.Initializer.Name, err)
	}
	d.machine.Statics.Freeze()
	d.initialized = true
	if d.members.Buffer != nil {
		if v, ok := d.machine.Statics.Lookup(d.members.Buffer); ok {
			if obj, err := d.machine.Heap.Deref(v); err == nil {
				log.Infof("static buffer holds %d bytes", obj.Length)
			}
		} else {
			log.Warningf("initializer did not store %s", d.members.Buffer.Name)
		}
	}
	return nil
}

// Decode evaluates decoder, an instantiation of the resolved decoder,
// for key and returns the decoded text.
func (d *Deobfuscator) Decode(decoder cil.MethodDescriptor, key int32) (string, error) {
	remove := d.machine.AddDispatchHook(coerceCallvirt)
	defer remove()
	return d.decode(decoder, key)
}

// DecodeKey evaluates the decoder instantiated at System.String.
func (d *Deobfuscator) DecodeKey(key int32) (string, error) {
	return d.Decode(cil.NewMethodSpec(d.members.Decoder, cil.TypeString), key)
}

func (d *Deobfuscator) decode(decoder cil.MethodDescriptor, key int32) (string, error) {
	if !d.initialized {
		return "", ErrNotInitialized
	}
	result, err := d.machine.Call(decoder, []vm.Value{vm.I32(key)})
	if err != nil {
		return "", err
	}
	text, err := d.machine.Marshaller.ToString(result)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoText, err)
	}
	return text, nil
}

// Run resolves, initializes and scans mod.
func Run(mod *cil.Module, opts Options) (*Report, error) {
	d, err := New(mod, opts)
	if err != nil {
		return nil, err
	}
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	return d.Scan()
}
