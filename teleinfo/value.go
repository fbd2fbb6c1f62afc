package teleinfo

import (
	"fmt"
	"strconv"
)

type Kind int

const (
	KindText Kind = iota
	KindUint
	KindOptTar
	KindPTEC
)

// OptTar is the tariff option (OPTARIF).
type OptTar int

const (
	OptTarBase OptTar = iota
	OptTarHC
	OptTarEJP
)

var optTarCodes = map[OptTar]string{
	OptTarBase: "BASE",
	OptTarHC:   "HC..",
	OptTarEJP:  "EJP.",
}

func (o OptTar) String() string {
	if s, ok := optTarCodes[o]; ok {
		return s
	}
	return fmt.Sprintf("OptTar(%d)", int(o))
}

// PTEC is the current tariff period.
type PTEC int

const (
	PTECTH PTEC = iota // all hours
	PTECHC             // off-peak
	PTECHP             // peak
	PTECHN             // EJP normal
	PTECPM             // EJP mobile peak
)

var ptecCodes = map[PTEC]string{
	PTECTH: "TH..",
	PTECHC: "HC..",
	PTECHP: "HP..",
	PTECHN: "HN..",
	PTECPM: "PM..",
}

func (p PTEC) String() string {
	if s, ok := ptecCodes[p]; ok {
		return s
	}
	return fmt.Sprintf("PTEC(%d)", int(p))
}

// Value is a decoded group value. The accessor matching Kind returns it.
type Value struct {
	kind Kind
	text string
	num  uint32
}

func TextValue(s string) Value {
	return Value{kind: KindText, text: s}
}

func UintValue(n uint32) Value {
	return Value{kind: KindUint, num: n}
}

func OptTarValue(o OptTar) Value {
	return Value{kind: KindOptTar, num: uint32(o)}
}

func PTECValue(p PTEC) Value {
	return Value{kind: KindPTEC, num: uint32(p)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) Text() string {
	return v.text
}

func (v Value) Uint() uint32 {
	return v.num
}

func (v Value) OptTar() OptTar {
	return OptTar(v.num)
}

func (v Value) PTEC() PTEC {
	return PTEC(v.num)
}

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindUint:
		return strconv.FormatUint(uint64(v.num), 10)
	case KindOptTar:
		return v.OptTar().String()
	case KindPTEC:
		return v.PTEC().String()
	}
	return fmt.Sprintf("Value(%d)", int(v.kind))
}
