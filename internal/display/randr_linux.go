//go:build linux

package display

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"

	"duodisplayd/internal/devnode"
	"duodisplayd/internal/orientation"
)

// pixels per millimetre at 96 DPI, used for the reported screen size
const pxPerMM = 96 / 25.4

// RandR drives the display configuration through the X RandR extension.
// Devices are connected outputs; an output is attached when it drives a CRTC.
type RandR struct {
	xu   *xgbutil.XUtil
	root xproto.Window

	mu     sync.Mutex
	staged map[string]pending
}

type pending struct {
	mode  Mode
	flags ApplyFlags
}

type outputState struct {
	id   randr.Output
	name string
	info *randr.GetOutputInfoReply
	crtc *randr.GetCrtcInfoReply
}

// NewSystemSubsystem returns the platform display subsystem.
func NewSystemSubsystem() (Subsystem, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}
	if err := randr.Init(xu.Conn()); err != nil {
		xu.Conn().Close()
		return nil, fmt.Errorf("randr init failed: %w", err)
	}
	return &RandR{
		xu:     xu,
		root:   xu.RootWin(),
		staged: make(map[string]pending),
	}, nil
}

// NewSystemWorkAreaFixer returns the platform work-area fixer. X window
// managers recompute struts themselves.
func NewSystemWorkAreaFixer() WorkAreaFixer {
	return NoopWorkAreaFixer
}

// Close releases the X connection.
func (r *RandR) Close() {
	r.xu.Conn().Close()
}

func (r *RandR) resources() (*randr.GetScreenResourcesReply, error) {
	res, err := randr.GetScreenResources(r.xu.Conn(), r.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}
	return res, nil
}

func (r *RandR) outputs(res *randr.GetScreenResourcesReply) ([]outputState, error) {
	var out []outputState
	for _, id := range res.Outputs {
		info, err := randr.GetOutputInfo(r.xu.Conn(), id, res.ConfigTimestamp).Reply()
		if err != nil {
			return nil, fmt.Errorf("get output info: %w", err)
		}
		if info.Connection != randr.ConnectionConnected {
			continue
		}
		st := outputState{id: id, name: string(info.Name), info: info}
		if info.Crtc != 0 {
			crtc, err := randr.GetCrtcInfo(r.xu.Conn(), info.Crtc, res.ConfigTimestamp).Reply()
			if err == nil && crtc.Width != 0 && crtc.Height != 0 {
				st.crtc = crtc
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *RandR) lookup(res *randr.GetScreenResourcesReply, name string) (outputState, error) {
	outs, err := r.outputs(res)
	if err != nil {
		return outputState{}, err
	}
	for _, o := range outs {
		if o.name == name {
			return o, nil
		}
	}
	return outputState{}, fmt.Errorf("output %s is not connected", name)
}

// Devices implements Subsystem.
func (r *RandR) Devices() ([]Device, error) {
	res, err := r.resources()
	if err != nil {
		return nil, err
	}
	outs, err := r.outputs(res)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(outs))
	for _, o := range outs {
		devices = append(devices, Device{
			Name:      o.name,
			MonitorID: devnode.ConnectorMonitorID(o.name),
			Attached:  o.crtc != nil,
		})
	}
	return devices, nil
}

// X rotations count counterclockwise, display rotations clockwise.
var toRandR = map[orientation.Rotation]uint16{
	orientation.Rotate0:   randr.RotationRotate0,
	orientation.Rotate90:  randr.RotationRotate270,
	orientation.Rotate180: randr.RotationRotate180,
	orientation.Rotate270: randr.RotationRotate90,
}

func fromRandR(rot uint16) orientation.Rotation {
	for k, v := range toRandR {
		if rot&0x0f == v {
			return k
		}
	}
	return orientation.Rotate0
}

func refresh(m randr.ModeInfo) int {
	if m.Htotal == 0 || m.Vtotal == 0 {
		return 0
	}
	return int(float64(m.DotClock)/(float64(m.Htotal)*float64(m.Vtotal)) + 0.5)
}

func modeInfo(res *randr.GetScreenResourcesReply, id randr.Mode) (randr.ModeInfo, bool) {
	for _, m := range res.Modes {
		if randr.Mode(m.Id) == id {
			return m, true
		}
	}
	return randr.ModeInfo{}, false
}

// CurrentMode implements Subsystem.
func (r *RandR) CurrentMode(dev Device) (Mode, error) {
	res, err := r.resources()
	if err != nil {
		return Mode{}, err
	}
	o, err := r.lookup(res, dev.Name)
	if err != nil {
		return Mode{}, err
	}
	if o.crtc == nil {
		return Mode{}, fmt.Errorf("output %s is not attached", dev.Name)
	}
	m := Mode{
		Width:    int(o.crtc.Width),
		Height:   int(o.crtc.Height),
		X:        int(o.crtc.X),
		Y:        int(o.crtc.Y),
		Rotation: fromRandR(o.crtc.Rotation),
	}
	if info, ok := modeInfo(res, o.crtc.Mode); ok {
		m.Frequency = refresh(info)
	}
	return m, nil
}

// Modes implements Subsystem. Modes are reported unrotated.
func (r *RandR) Modes(dev Device) ([]Mode, error) {
	res, err := r.resources()
	if err != nil {
		return nil, err
	}
	o, err := r.lookup(res, dev.Name)
	if err != nil {
		return nil, err
	}
	modes := make([]Mode, 0, len(o.info.Modes))
	for _, id := range o.info.Modes {
		info, ok := modeInfo(res, id)
		if !ok {
			continue
		}
		modes = append(modes, Mode{
			Width:     int(info.Width),
			Height:    int(info.Height),
			Frequency: refresh(info),
		})
	}
	return modes, nil
}

// Apply implements Subsystem. The mode is staged until Commit.
func (r *RandR) Apply(dev Device, mode Mode, flags ApplyFlags) error {
	if !mode.IsZero() && !mode.Rotation.Valid() {
		return fmt.Errorf("invalid rotation %d", mode.Rotation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged[dev.Name] = pending{mode: mode, flags: flags}
	return nil
}

// pickMode finds the output mode whose unrotated extent fits m, preferring
// the requested refresh rate.
func pickMode(res *randr.GetScreenResourcesReply, o outputState, m Mode) (randr.Mode, bool) {
	w, h := m.Width, m.Height
	if m.Rotation == orientation.Rotate90 || m.Rotation == orientation.Rotate270 {
		w, h = h, w
	}
	var (
		best  randr.Mode
		found bool
	)
	for _, id := range o.info.Modes {
		info, ok := modeInfo(res, id)
		if !ok || int(info.Width) != w || int(info.Height) != h {
			continue
		}
		if m.Frequency == 0 || refresh(info) == m.Frequency {
			return id, true
		}
		if !found {
			best, found = id, true
		}
	}
	return best, found
}

// assignCrtcs picks a CRTC for every output in wants. An output keeps the
// CRTC it already drives; the others take the first possible CRTC nobody
// else holds. used lists CRTCs owned by outputs outside wants and is updated.
func assignCrtcs(wants []outputState, used map[randr.Crtc]bool) (map[string]randr.Crtc, error) {
	assigned := make(map[string]randr.Crtc, len(wants))
	for _, o := range wants {
		if c := o.info.Crtc; c != 0 && !used[c] {
			assigned[o.name] = c
			used[c] = true
		}
	}
	for _, o := range wants {
		if _, ok := assigned[o.name]; ok {
			continue
		}
		for _, c := range o.info.Crtcs {
			if !used[c] {
				assigned[o.name] = c
				used[c] = true
				break
			}
		}
		if _, ok := assigned[o.name]; !ok {
			return nil, fmt.Errorf("no free crtc for %s", o.name)
		}
	}
	return assigned, nil
}

// Commit implements Subsystem. Staged layouts with negative origins are
// translated so the desktop starts at 0,0, which X requires.
func (r *RandR) Commit() error {
	r.mu.Lock()
	staged := r.staged
	r.staged = make(map[string]pending)
	r.mu.Unlock()

	if len(staged) == 0 {
		return nil
	}

	res, err := r.resources()
	if err != nil {
		return err
	}
	outs, err := r.outputs(res)
	if err != nil {
		return err
	}
	c := r.xu.Conn()

	names := make([]string, 0, len(staged))
	for name := range staged {
		names = append(names, name)
	}
	sort.Strings(names)

	minX, minY := 0, 0
	for _, name := range names {
		m := staged[name].mode
		if m.IsZero() {
			continue
		}
		minX, minY = min(minX, m.X), min(minY, m.Y)
	}

	byName := make(map[string]outputState, len(outs))
	used := make(map[randr.Crtc]bool)
	width, height := 0, 0
	for _, o := range outs {
		byName[o.name] = o
		if _, restaged := staged[o.name]; restaged {
			continue
		}
		if o.info.Crtc != 0 {
			used[o.info.Crtc] = true
		}
		if o.crtc != nil {
			width = max(width, int(o.crtc.X)+int(o.crtc.Width))
			height = max(height, int(o.crtc.Y)+int(o.crtc.Height))
		}
	}

	var wants []outputState
	for _, name := range names {
		o, ok := byName[name]
		if !ok {
			return fmt.Errorf("output %s is not connected", name)
		}
		if !staged[name].mode.IsZero() {
			wants = append(wants, o)
		}
	}
	crtcs, err := assignCrtcs(wants, used)
	if err != nil {
		return err
	}

	// Release every restaged CRTC first so the new screen size always fits.
	for _, name := range names {
		o := byName[name]
		if o.crtc == nil {
			continue
		}
		reply, err := randr.SetCrtcConfig(c, o.info.Crtc, xproto.TimeCurrentTime, res.ConfigTimestamp,
			0, 0, 0, randr.RotationRotate0, nil).Reply()
		if err != nil {
			return fmt.Errorf("disable crtc of %s: %w", name, err)
		}
		if reply.Status != randr.SetConfigSuccess {
			return fmt.Errorf("disable crtc of %s: status %d", name, reply.Status)
		}
	}

	for _, name := range names {
		m := staged[name].mode
		if m.IsZero() {
			continue
		}
		width = max(width, m.X-minX+m.Width)
		height = max(height, m.Y-minY+m.Height)
	}
	if width > 0 && height > 0 {
		err := randr.SetScreenSizeChecked(c, r.root, uint16(width), uint16(height),
			uint32(float64(width)/pxPerMM), uint32(float64(height)/pxPerMM)).Check()
		if err != nil {
			return fmt.Errorf("set screen size %dx%d: %w", width, height, err)
		}
	}

	for _, name := range names {
		p := staged[name]
		if p.mode.IsZero() {
			continue
		}
		o := byName[name]
		id, ok := pickMode(res, o, p.mode)
		if !ok {
			return fmt.Errorf("%w: no %s mode on %s", ErrNotFound, p.mode, name)
		}
		crtc := crtcs[name]

		reply, err := randr.SetCrtcConfig(c, crtc, xproto.TimeCurrentTime, res.ConfigTimestamp,
			int16(p.mode.X-minX), int16(p.mode.Y-minY), id, toRandR[p.mode.Rotation],
			[]randr.Output{o.id}).Reply()
		if err != nil {
			return fmt.Errorf("configure crtc of %s: %w", name, err)
		}
		if reply.Status != randr.SetConfigSuccess {
			return fmt.Errorf("configure crtc of %s: status %d", name, reply.Status)
		}

		if p.flags&SetPrimary != 0 {
			if err := randr.SetOutputPrimaryChecked(c, r.root, o.id).Check(); err != nil {
				return fmt.Errorf("set primary %s: %w", name, err)
			}
		}
	}
	return nil
}

// ExtendTopology implements Subsystem. Every connected output that is not
// attached is enabled at its preferred mode to the right of the desktop.
func (r *RandR) ExtendTopology() error {
	res, err := r.resources()
	if err != nil {
		return err
	}
	outs, err := r.outputs(res)
	if err != nil {
		return err
	}

	right := 0
	for _, o := range outs {
		if o.crtc != nil {
			right = max(right, int(o.crtc.X)+int(o.crtc.Width))
		}
	}

	extended := false
	for _, o := range outs {
		if o.crtc != nil || len(o.info.Modes) == 0 {
			continue
		}
		// preferred modes lead the list
		info, ok := modeInfo(res, o.info.Modes[0])
		if !ok {
			continue
		}
		m := Mode{Width: int(info.Width), Height: int(info.Height), X: right, Frequency: refresh(info)}
		if err := r.Apply(Device{Name: o.name}, m, UpdateRegistry|NoReset); err != nil {
			return err
		}
		right += m.Width
		extended = true
	}
	if !extended {
		return nil
	}
	return r.Commit()
}
