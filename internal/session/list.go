package session

import (
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/matheus3301/chatline/internal/lock"
)

// Info describes a session directory on disk.
type Info struct {
	Name    string
	Running bool
	PID     int
}

// List returns every valid session under SessionsDir, sorted by name.
// Running reports whether a daemon currently holds the session lock.
func List() ([]Info, error) {
	entries, err := os.ReadDir(SessionsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		info := Info{Name: e.Name()}
		pid, held, err := lock.Holder(Dir(e.Name()))
		if err == nil && held {
			info.Running = true
			info.PID = pid
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
