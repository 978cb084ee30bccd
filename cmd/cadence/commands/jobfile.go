package commands

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/engine"
	"github.com/teranos/cadence/pulse/schedule"
)

// jobFile is the manifest read by 'job import':
//
//	[[job]]
//	title = "nightly backup"
//	type = "script"
//	cron = "0 3 * * *"
//	max_retries = 2
//	payload = { script_path = "./backup.sh", args = ["--full"] }
//
// payload may also be a string holding raw JSON.
type jobFile struct {
	Jobs []jobEntry `toml:"job"`
}

type jobEntry struct {
	Title       string      `toml:"title"`
	Description string      `toml:"description"`
	Type        string      `toml:"type"`
	At          string      `toml:"at"`
	In          string      `toml:"in"`
	Cron        string      `toml:"cron"`
	Payload     interface{} `toml:"payload"`
	MaxRetries  *int        `toml:"max_retries"`
	Owner       string      `toml:"owner"`
	Inactive    bool        `toml:"inactive"`
}

// parseJobFile decodes a manifest into job requests. Unknown keys are
// rejected so typos do not silently drop settings. now anchors "in".
func parseJobFile(r io.Reader, now time.Time) ([]engine.JobRequest, error) {
	var file jobFile
	meta, err := toml.NewDecoder(r).Decode(&file)
	if err != nil {
		return nil, errors.NewInvalidRequestError("invalid manifest: %v", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, errors.NewInvalidRequestError("unknown keys in manifest: %s", strings.Join(keys, ", "))
	}
	if len(file.Jobs) == 0 {
		return nil, errors.NewInvalidRequestError("manifest defines no [[job]] entries")
	}

	reqs := make([]engine.JobRequest, 0, len(file.Jobs))
	for i, entry := range file.Jobs {
		req, err := entry.request(now)
		if err != nil {
			return nil, errors.Wrapf(err, "job %d", i+1)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (e jobEntry) request(now time.Time) (engine.JobRequest, error) {
	var in time.Duration
	if e.In != "" {
		d, err := time.ParseDuration(e.In)
		if err != nil {
			return engine.JobRequest{}, errors.NewInvalidRequestError("in: %v", err)
		}
		in = d
	}
	kind, sched, err := scheduleFrom(e.At, in, e.Cron, now)
	if err != nil {
		return engine.JobRequest{}, err
	}
	if kind == "" {
		return engine.JobRequest{}, errors.NewInvalidRequestError("one of at, in or cron is required")
	}

	payload, err := entryPayload(e.Payload)
	if err != nil {
		return engine.JobRequest{}, err
	}

	return engine.JobRequest{
		Title:       e.Title,
		Description: e.Description,
		Type:        schedule.JobType(e.Type),
		Kind:        kind,
		Schedule:    sched,
		Payload:     payload,
		MaxRetries:  e.MaxRetries,
		CreatedBy:   e.Owner,
		Inactive:    e.Inactive,
	}, nil
}

// entryPayload accepts a JSON string or any TOML value and returns JSON
func entryPayload(v interface{}) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case string:
		if !json.Valid([]byte(p)) {
			return nil, errors.NewInvalidRequestError("payload string is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, errors.NewInvalidRequestError("payload: %v", err)
		}
		return raw, nil
	}
}
