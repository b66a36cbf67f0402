package redact

import "bytes"

// matchPII tries each PII matcher, in the fixed order of spec.md §4.3.1,
// at buf[pos:]. The first matcher that succeeds wins; its match length
// is returned. A return of 0 means no PII matcher fired at pos.
func matchPII(buf []byte, pos int) int {
	if n := matchSSNDashed(buf, pos); n > 0 {
		return n
	}
	if n := matchSSNCompact(buf, pos); n > 0 {
		return n
	}
	if n := matchPartialSSN(buf, pos); n > 0 {
		return n
	}
	if n := matchNINO(buf, pos); n > 0 {
		return n
	}
	if n := matchSIN(buf, pos); n > 0 {
		return n
	}
	if n := matchAadhaar(buf, pos); n > 0 {
		return n
	}
	return 0
}

// maxPIILen is the longest possible match any PII matcher can produce;
// it feeds the engine's carry-over window sizing (spec.md §4.3).
const maxPIILen = 14 // Aadhaar, fully spaced: 12 digits + 2 separators

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isBoundaryBefore(buf []byte, pos int) bool {
	if pos <= 0 {
		return true
	}
	return !isAlnum(buf[pos-1])
}

func isBoundaryAfter(buf []byte, end int) bool {
	if end >= len(buf) {
		return true
	}
	return !isAlnum(buf[end])
}

func toUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}

func atoiDigits(b []byte) int {
	n := 0
	for _, c := range b {
		n = n*10 + int(c-'0')
	}
	return n
}

// containsLabelCI reports whether label (case-insensitive) appears
// anywhere in window.
func containsLabelCI(window []byte, label string) bool {
	if len(window) < len(label) {
		return false
	}
	up := make([]byte, len(window))
	for i, c := range window {
		up[i] = toUpper(c)
	}
	return bytes.Contains(up, []byte(label))
}

func validSSNNumbers(area, group, serial int) bool {
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	if group == 0 || serial == 0 {
		return false
	}
	return true
}

// matchSSNDashed matches AAA-GG-SSSS or AAA GG SSSS (same separator in
// both slots), word-boundary delimited, with area/group/serial validated.
func matchSSNDashed(buf []byte, pos int) int {
	const n = 11
	if pos+n > len(buf) || !isBoundaryBefore(buf, pos) {
		return 0
	}
	d := buf[pos : pos+n]
	for _, i := range [3]int{0, 1, 2} {
		if !isDigit(d[i]) {
			return 0
		}
	}
	sep := d[3]
	if sep != '-' && sep != ' ' {
		return 0
	}
	if !isDigit(d[4]) || !isDigit(d[5]) || d[6] != sep {
		return 0
	}
	for i := 7; i < 11; i++ {
		if !isDigit(d[i]) {
			return 0
		}
	}
	if !isBoundaryAfter(buf, pos+n) {
		return 0
	}
	if !validSSNNumbers(atoiDigits(d[0:3]), atoiDigits(d[4:6]), atoiDigits(d[7:11])) {
		return 0
	}
	return n
}

// matchSSNCompact matches nine consecutive digits, word-boundary
// delimited, preceded within the prior 16 bytes (case-insensitive) by
// the label SSN or SOCIAL SECURITY, with the same numeric validation.
func matchSSNCompact(buf []byte, pos int) int {
	const n = 9
	if pos+n > len(buf) || !isBoundaryBefore(buf, pos) {
		return 0
	}
	for i := 0; i < n; i++ {
		if !isDigit(buf[pos+i]) {
			return 0
		}
	}
	if !isBoundaryAfter(buf, pos+n) {
		return 0
	}
	if !validSSNNumbers(atoiDigits(buf[pos:pos+3]), atoiDigits(buf[pos+3:pos+5]), atoiDigits(buf[pos+5:pos+9])) {
		return 0
	}
	start := pos - 16
	if start < 0 {
		start = 0
	}
	label := buf[start:pos]
	if containsLabelCI(label, "SSN") || containsLabelCI(label, "SOCIAL SECURITY") {
		return n
	}
	return 0
}

func isMaskChar(b byte) bool { return b == 'X' || b == 'x' || b == '*' }

// matchPartialSSN matches the last-four form: four digits, word-boundary
// delimited, preceded either within 20 bytes by a label or immediately by
// the mask "XXX-XX-" (mask chars X, x, or *).
func matchPartialSSN(buf []byte, pos int) int {
	const n = 4
	if pos+n > len(buf) || !isBoundaryBefore(buf, pos) {
		return 0
	}
	for i := 0; i < n; i++ {
		if !isDigit(buf[pos+i]) {
			return 0
		}
	}
	if !isBoundaryAfter(buf, pos+n) {
		return 0
	}

	start := pos - 20
	if start < 0 {
		start = 0
	}
	if containsLabelCI(buf[start:pos], "SSN") || containsLabelCI(buf[start:pos], "SOCIAL SECURITY") {
		return n
	}

	if pos >= 7 {
		m := buf[pos-7 : pos]
		if isMaskChar(m[0]) && isMaskChar(m[1]) && isMaskChar(m[2]) &&
			m[3] == '-' &&
			isMaskChar(m[4]) && isMaskChar(m[5]) &&
			m[6] == '-' {
			return n
		}
	}
	return 0
}

// matchNINO matches a UK National Insurance Number: two leading letters
// (first not in DFIQUV, second also not O), six digits optionally in
// three space-separated pairs, a final suffix letter A-D.
func matchNINO(buf []byte, pos int) int {
	if pos+8 > len(buf) || !isBoundaryBefore(buf, pos) {
		return 0
	}
	c0, c1 := buf[pos], buf[pos+1]
	if !((c0 >= 'A' && c0 <= 'Z') || (c0 >= 'a' && c0 <= 'z')) {
		return 0
	}
	if !((c1 >= 'A' && c1 <= 'Z') || (c1 >= 'a' && c1 <= 'z')) {
		return 0
	}
	u0, u1 := toUpper(c0), toUpper(c1)
	if bytes.IndexByte([]byte("DFIQUV"), u0) >= 0 {
		return 0
	}
	if bytes.IndexByte([]byte("DFIQUVO"), u1) >= 0 {
		return 0
	}

	i := pos + 2
	for g := 0; g < 3; g++ {
		if g > 0 && i < len(buf) && buf[i] == ' ' {
			i++
		}
		if i+2 > len(buf) || !isDigit(buf[i]) || !isDigit(buf[i+1]) {
			return 0
		}
		i += 2
	}
	if i < len(buf) && buf[i] == ' ' {
		i++
	}
	if i >= len(buf) {
		return 0
	}
	suf := toUpper(buf[i])
	if suf < 'A' || suf > 'D' {
		return 0
	}
	i++
	if !isBoundaryAfter(buf, i) {
		return 0
	}
	return i - pos
}

// matchSIN matches a Canadian Social Insurance Number: nine digits,
// optionally single-space separated in three groups of three,
// word-boundary delimited, Luhn-valid.
func matchSIN(buf []byte, pos int) int {
	if !isBoundaryBefore(buf, pos) {
		return 0
	}
	i := pos
	digits := make([]byte, 0, 9)
	for g := 0; g < 3; g++ {
		if g > 0 && i < len(buf) && buf[i] == ' ' {
			i++
		}
		if i+3 > len(buf) {
			return 0
		}
		for k := 0; k < 3; k++ {
			if !isDigit(buf[i+k]) {
				return 0
			}
		}
		digits = append(digits, buf[i], buf[i+1], buf[i+2])
		i += 3
	}
	if !isBoundaryAfter(buf, i) {
		return 0
	}
	if !luhnValid(digits) {
		return 0
	}
	return i - pos
}

// matchAadhaar matches an Indian Aadhaar number: twelve digits,
// optionally single-space separated in three groups of four,
// word-boundary delimited, Verhoeff-valid.
func matchAadhaar(buf []byte, pos int) int {
	if !isBoundaryBefore(buf, pos) {
		return 0
	}
	i := pos
	digits := make([]byte, 0, 12)
	for g := 0; g < 3; g++ {
		if g > 0 && i < len(buf) && buf[i] == ' ' {
			i++
		}
		if i+4 > len(buf) {
			return 0
		}
		for k := 0; k < 4; k++ {
			if !isDigit(buf[i+k]) {
				return 0
			}
		}
		digits = append(digits, buf[i], buf[i+1], buf[i+2], buf[i+3])
		i += 4
	}
	if !isBoundaryAfter(buf, i) {
		return 0
	}
	if !verhoeffValid(digits) {
		return 0
	}
	return i - pos
}

// luhnValid runs the standard Luhn (mod 10) checksum over digits,
// treating the last digit as the check digit.
func luhnValid(digits []byte) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Verhoeff tables (standard construction over dihedral group D5).
var verhoeffD = [10][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
	{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
	{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
	{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
	{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
	{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
	{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
	{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

var verhoeffP = [8][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
	{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
	{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
	{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
	{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
	{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
	{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
}

// verhoeffValid validates digits (including its trailing check digit)
// against the Verhoeff algorithm.
func verhoeffValid(digits []byte) bool {
	c := 0
	n := len(digits)
	for i := 0; i < n; i++ {
		d := int(digits[n-1-i] - '0')
		c = verhoeffD[c][verhoeffP[i%8][d]]
	}
	return c == 0
}
