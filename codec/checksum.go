package codec

import "fmt"

// LineLength is the width of a checksummed data line, checksum included.
const LineLength = 69

// Checksum computes the modulo-10 checksum of line: digits count their value,
// '-' counts one, letters, spaces, '.' and '+' count nothing. Any other
// character aborts with ErrInvalidCharacter.
func Checksum(line string) (int, error) {
	sum := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		case c == ' ', c == '.', c == '+',
			c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		default:
			return 0, fmt.Errorf("%w: %q at column %d", ErrInvalidCharacter, c, i+1)
		}
	}
	return sum % 10, nil
}

// VerifyChecksum checks that the last column of a full data line matches the
// checksum of the columns before it.
func VerifyChecksum(line string) error {
	if len(line) != LineLength {
		return fmt.Errorf("%w: line is %d columns, want %d", ErrMalformedRecord, len(line), LineLength)
	}
	want, err := Checksum(line[:LineLength-1])
	if err != nil {
		return err
	}
	last := line[LineLength-1]
	if last < '0' || last > '9' {
		return fmt.Errorf("%w: checksum column holds %q", ErrMalformedRecord, last)
	}
	if got := int(last - '0'); got != want {
		return fmt.Errorf("%w: line carries %d, computed %d", ErrChecksumMismatch, got, want)
	}
	return nil
}
