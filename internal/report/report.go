// Package report renders acceptance reports of a test case run as JSON and
// PDF.
package report

import (
	"encoding/json"
	"os"

	"example.com/signalgate/internal/check"
	"example.com/signalgate/internal/common"
)

func SaveAcceptanceJSON(rep check.AcceptanceReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(out, append(b, '\n'), 0o644)
}

func LoadAcceptanceJSON(path string) (check.AcceptanceReport, error) {
	var rep check.AcceptanceReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
