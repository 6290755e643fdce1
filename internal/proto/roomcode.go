package proto

import "strings"

// RoomCodeLength is the fixed length of every room code.
const RoomCodeLength = 6

// RoomCodeAlphabet is the case-normalized alphanumeric alphabet room codes
// are drawn from.
const RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizeRoomCode upper-cases and trims a user-supplied room code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code has the shape of a normalized room code.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(RoomCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
