package protocol

// CRC16 computes the block checksum: CRC-16/CCITT, reflected, seeded with
// 0xFFFF (also known as CRC-16/MCRF4XX). Blocks carry it high byte first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}
