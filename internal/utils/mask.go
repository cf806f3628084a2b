package utils

// MaskSecret keeps at most the first four characters of s.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
