package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"fleet-steward/agent/internal/pipeline"
)

// clipHead keeps at most n bytes from the start of s without splitting a rune.
func clipHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailLines keeps the newest whole lines of s that fit in n bytes. A single
// last line longer than n keeps its end.
func tailLines(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	if s[cut-1] == '\n' {
		return s[cut:]
	}
	if i := strings.IndexByte(s[cut:], '\n'); i >= 0 && cut+i+1 < len(s) {
		return s[cut+i+1:]
	}
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// InventoryReport is the SYNC_INVENTORY result message. Packages holds as many
// entries as fit in the ledger's message limit; Total counts all of them.
type InventoryReport struct {
	Total    int                    `json:"total"`
	Packages []pipeline.PackageInfo `json:"packages"`
}

func inventoryMessage(inv []pipeline.PackageInfo, limit int) string {
	rep := InventoryReport{Total: len(inv), Packages: append([]pipeline.PackageInfo{}, inv...)}
	for {
		raw, err := json.Marshal(rep)
		if err != nil {
			return fmt.Sprintf(`{"total":%d,"packages":[]}`, len(inv))
		}
		if len(raw) <= limit || len(rep.Packages) == 0 {
			return string(raw)
		}
		rep.Packages = rep.Packages[:len(rep.Packages)-1]
	}
}
