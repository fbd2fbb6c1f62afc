package teleinfo

const (
	startText   = 0x02
	endText     = 0x03
	endOfText   = 0x04
	lineFeed    = 0x0A
	carriageRet = 0x0D
	space       = 0x20

	// MOTDETAT is one byte longer and never gets past readGroupField
	labelMaxLength = 7
	valueMaxLength = 15
)

// Group is one label/value pair of a frame.
type Group struct {
	Label string
	Value string
}

// Checksum of an information group: the low 6 bits of the sum of label,
// separator and value, shifted into the printable range.
func Checksum(label, value []byte) byte {
	sum := byte(space)
	for _, c := range label {
		sum += c
	}
	for _, c := range value {
		sum += c
	}
	return (sum & 0x3F) + 0x20
}

// EncodeGroup returns LF label SP value SP checksum CR.
func EncodeGroup(label, value string) []byte {
	b := make([]byte, 0, len(label)+len(value)+5)
	b = append(b, lineFeed)
	b = append(b, label...)
	b = append(b, space)
	b = append(b, value...)
	b = append(b, space)
	b = append(b, Checksum([]byte(label), []byte(value)))
	return append(b, carriageRet)
}

// EncodeFrame returns STX groups ETX.
func EncodeFrame(groups ...Group) []byte {
	b := []byte{startText}
	for _, g := range groups {
		b = append(b, EncodeGroup(g.Label, g.Value)...)
	}
	return append(b, endText)
}
