package pg

import (
	"fmt"
	"strings"
)

func trimNewline(format string, v ...any) string {
	return strings.TrimSuffix(fmt.Sprintf(format, v...), "\n")
}
