package deobf

import (
	"fmt"

	"github.com/chazu/cildecode/pkg/cil"
)

// Site records one matched call pattern.
type Site struct {
	Method string
	Index  int // position of the constant load
	Key    int32
	Text   string // decoded text when patched
	Err    error  // reason the site was left untouched
}

// Patched reports whether the site was rewritten.
func (s Site) Patched() bool { return s.Err == nil }

func (s Site) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s@%d key=%d skipped: %s", s.Method, s.Index, s.Key, s.Err)
	}
	return fmt.Sprintf("%s@%d key=%d %q", s.Method, s.Index, s.Key, s.Text)
}

// Report summarizes a scan.
type Report struct {
	Methods int // methods with a body
	Matches int
	Patched int
	Skipped int
	Sites   []Site
}

// Scan visits every method body and rewrites each recognized call site
// ldc.i4 key; br next; call Decoder<T>(key) into nop; nop; ldstr "text".
// The call must be a generic instantiation whose definition is the
// resolved decoder; instantiations of any other method are not sites.
// Sites that fail to decode are left as found.
func (d *Deobfuscator) Scan() (*Report, error) {
	if !d.initialized {
		return nil, ErrNotInitialized
	}
	remove := d.machine.AddDispatchHook(coerceCallvirt)
	defer remove()

	report := &Report{}
	for _, method := range d.module.Methods() {
		if !method.HasBody() {
			continue
		}
		report.Methods++
		d.scanMethod(method, report)
	}
	log.Infof("scanned %d methods: %d matches, %d patched, %d skipped",
		report.Methods, report.Matches, report.Patched, report.Skipped)
	return report, nil
}

func (d *Deobfuscator) scanMethod(method *cil.MethodDef, report *Report) {
	body := method.Body
	for i := range body.Instructions {
		key, decoder, ok := d.matchSite(body, i)
		if !ok {
			continue
		}
		report.Matches++
		site := Site{Method: method.FullName(), Index: i, Key: key}

		text, err := d.decode(decoder, key)
		if err != nil {
			site.Err = err
			report.Skipped++
			log.Debugf("skipped %s", site)
		} else {
			site.Text = text
			patchSite(body, i, text)
			report.Patched++
			log.Debugf("patched %s", site)
		}
		report.Sites = append(report.Sites, site)
	}
}

// matchSite tests the three-instruction window starting at i.
func (d *Deobfuscator) matchSite(body *cil.MethodBody, i int) (int32, cil.MethodDescriptor, bool) {
	if i+2 >= len(body.Instructions) {
		return 0, nil, false
	}
	load, branch, call := body.Instructions[i], body.Instructions[i+1], body.Instructions[i+2]
	if !load.IsLdcI4() || !branch.IsUnconditionalBranch() || call.OpCode != cil.OpCall {
		return 0, nil, false
	}
	spec, ok := call.Operand.(*cil.MethodSpec)
	if !ok || spec.Resolve() != d.members.Decoder {
		return 0, nil, false
	}
	return load.LdcI4Constant(), spec, true
}

// patchSite replaces the window at i in place; indices do not move.
func patchSite(body *cil.MethodBody, i int, text string) {
	body.Instructions[i].ReplaceWithNop()
	body.Instructions[i+1].ReplaceWithNop()
	body.Instructions[i+2].ReplaceWith(cil.OpLdstr, text)
	body.ComputeOffsets()
}
