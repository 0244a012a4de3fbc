package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects log lines (tests, daemons writing to a file)
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

func Log(event string, kv map[string]any) {
	line := make(map[string]any, len(kv)+2)
	for k, v := range kv {
		line[k] = v
	}
	line["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["event"] = event
	b, err := json.Marshal(line)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"ts": line["ts"], "event": event, "marshal_error": err.Error()})
	}
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(b))
}
