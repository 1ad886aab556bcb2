package receita

import "strings"

var (
	weights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	weights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// NormalizeCNPJ strips the mask, keeping only digits.
func NormalizeCNPJ(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValidCNPJ reports whether s, masked or not, carries valid check digits.
func ValidCNPJ(s string) bool {
	d := NormalizeCNPJ(s)
	if len(d) != 14 {
		return false
	}
	if strings.Count(d, d[:1]) == 14 {
		return false
	}
	digits := make([]int, 14)
	for i := range d {
		digits[i] = int(d[i] - '0')
	}
	return digits[12] == checkDigit(digits[:12], weights1) && digits[13] == checkDigit(digits[:13], weights2)
}

func checkDigit(digits, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// FormatCNPJ renders the 00.000.000/0000-00 mask.
func FormatCNPJ(s string) string {
	d := NormalizeCNPJ(s)
	if len(d) != 14 {
		return s
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}
