package sandbox

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jkaninda/sandrun/internal/domain"
)

// maxJobBytes bounds the job a child will read.
const maxJobBytes = 16 << 20

// ServeChild is the isolate side of the process and docker backends. It
// reads one Job from r, runs it in a fresh VM and writes exactly one Message
// to w. Protocol failures are reported as HostError messages; the returned
// error only covers failing to write the reply.
func ServeChild(r io.Reader, w io.Writer) error {
	msg := serveChild(r)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		return fmt.Errorf("writing isolate reply: %w", err)
	}
	return nil
}

func serveChild(r io.Reader) Message {
	data, err := io.ReadAll(io.LimitReader(r, maxJobBytes+1))
	if err != nil {
		return failure(domain.Errorf(domain.KindHost, "reading job: %s", err.Error()))
	}
	if len(data) > maxJobBytes {
		return failure(domain.Errorf(domain.KindHost, "job exceeds %d bytes", maxJobBytes))
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return failure(domain.Errorf(domain.KindHost, "decoding job: %s", err.Error()))
	}
	return RunJob(job)
}
