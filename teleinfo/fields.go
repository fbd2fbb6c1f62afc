package teleinfo

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Callbacks receive field changes. Nil members are skipped.
type Callbacks struct {
	HubAddr           func(addr string)
	OptTar            func(OptTar)
	BaseIndex         func(wh uint32)
	HCIndex           func(wh uint32)
	HPIndex           func(wh uint32)
	EJPHNIndex        func(wh uint32)
	EJPHPMIndex       func(wh uint32)
	EJPNotice         func(minutes uint8)
	GazIndex          func(dal uint32)
	CurrentTariff     func(PTEC)
	MeterState        func(state string)
	InstCurrent       func(amps uint16)
	MaxCurrent        func(amps uint16)
	SubscribedCurrent func(amps uint16)
	ApparentPower     func(va uint32)
	HHPHC             func(group byte)

	// Changed is called for every changed field after the typed callback.
	Changed func(label string, v Value)
}

type field struct {
	kind   Kind
	length int
	notify func(cb *Callbacks, v Value)
}

var registry = map[string]field{
	"ADCO": {KindText, 12, func(cb *Callbacks, v Value) {
		if cb.HubAddr != nil {
			cb.HubAddr(v.Text())
		}
	}},
	"OPTARIF": {KindOptTar, 4, func(cb *Callbacks, v Value) {
		if cb.OptTar != nil {
			cb.OptTar(v.OptTar())
		}
	}},
	"BASE":   {KindUint, 9, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.BaseIndex })},
	"HCHC":   {KindUint, 9, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.HCIndex })},
	"HCHP":   {KindUint, 9, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.HPIndex })},
	"EJPHN":  {KindUint, 9, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.EJPHNIndex })},
	"EJPHPM": {KindUint, 9, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.EJPHPMIndex })},
	"PEJP": {KindUint, 2, func(cb *Callbacks, v Value) {
		if cb.EJPNotice != nil {
			cb.EJPNotice(uint8(v.Uint()))
		}
	}},
	"GAZ": {KindUint, 7, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.GazIndex })},
	"PTEC": {KindPTEC, 4, func(cb *Callbacks, v Value) {
		if cb.CurrentTariff != nil {
			cb.CurrentTariff(v.PTEC())
		}
	}},
	"MOTDETAT": {KindText, 6, func(cb *Callbacks, v Value) {
		if cb.MeterState != nil {
			cb.MeterState(v.Text())
		}
	}},
	"IINST":  {KindUint, 3, uint16Notifier(func(cb *Callbacks) func(uint16) { return cb.InstCurrent })},
	"IMAX":   {KindUint, 3, uint16Notifier(func(cb *Callbacks) func(uint16) { return cb.MaxCurrent })},
	"ISOUSC": {KindUint, 2, uint16Notifier(func(cb *Callbacks) func(uint16) { return cb.SubscribedCurrent })},
	"PAPP":   {KindUint, 5, uint32Notifier(func(cb *Callbacks) func(uint32) { return cb.ApparentPower })},
	"HHPHC": {KindText, 1, func(cb *Callbacks, v Value) {
		if cb.HHPHC != nil {
			cb.HHPHC(v.Text()[0])
		}
	}},
}

func uint32Notifier(fn func(*Callbacks) func(uint32)) func(*Callbacks, Value) {
	return func(cb *Callbacks, v Value) {
		if f := fn(cb); f != nil {
			f(v.Uint())
		}
	}
}

func uint16Notifier(fn func(*Callbacks) func(uint16)) func(*Callbacks, Value) {
	return func(cb *Callbacks, v Value) {
		if f := fn(cb); f != nil {
			f(uint16(v.Uint()))
		}
	}
}

// Labels returns the handled group labels in alphabetical order.
func Labels() []string {
	labels := make([]string, 0, len(registry))
	for l := range registry {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Decode converts the raw value of a known group.
func Decode(label string, raw []byte) (Value, error) {
	f, ok := registry[label]
	if !ok {
		return Value{}, ErrNotHandledGroup
	}
	if len(raw) != f.length {
		return Value{}, errors.Wrapf(ErrInvalidLength, "%d bytes, expected %d", len(raw), f.length)
	}
	switch f.kind {
	case KindText:
		return TextValue(string(raw)), nil
	case KindUint:
		for _, c := range raw {
			if c < '0' || c > '9' {
				return Value{}, errors.Wrapf(ErrInvalidValue, "%q is not a number", raw)
			}
		}
		n, err := strconv.ParseUint(string(raw), 10, 32)
		if err != nil {
			return Value{}, errors.Wrap(ErrInvalidValue, err.Error())
		}
		return UintValue(uint32(n)), nil
	case KindOptTar:
		for o, code := range optTarCodes {
			if code == string(raw) {
				return OptTarValue(o), nil
			}
		}
	case KindPTEC:
		for p, code := range ptecCodes {
			if code == string(raw) {
				return PTECValue(p), nil
			}
		}
	}
	return Value{}, errors.Wrapf(ErrInvalidValue, "unknown code %q", raw)
}

// Encode is the inverse of Decode.
func Encode(label string, v Value) ([]byte, error) {
	f, ok := registry[label]
	if !ok {
		return nil, ErrNotHandledGroup
	}
	if v.Kind() != f.kind {
		return nil, errors.Wrapf(ErrInvalidValue, "kind %d, expected %d", v.Kind(), f.kind)
	}
	var raw string
	switch f.kind {
	case KindUint:
		raw = fmt.Sprintf("%0*d", f.length, v.Uint())
	case KindOptTar:
		raw = optTarCodes[v.OptTar()]
	case KindPTEC:
		raw = ptecCodes[v.PTEC()]
	default:
		raw = v.Text()
	}
	if len(raw) != f.length {
		return nil, errors.Wrapf(ErrInvalidLength, "%q does not fit %d bytes", raw, f.length)
	}
	return []byte(raw), nil
}
