package clip

// CRC-16/CCITT-FALSE parameters.
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// crcTable is the byte-wise lookup table for crcPolynomial.
var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// Checksum computes the frame checksum (CRC-16/CCITT-FALSE) over data.
func Checksum(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
