package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

type idsOnly struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID string `json:"id"`
				} `json:"messages"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// IdempotencyKey derives a stable key for a callback payload: the sorted
// provider ids it carries (statuses qualified by their state, since one
// message id produces several status callbacks), or the SHA-256 of the raw
// body when no id is present.
func IdempotencyKey(payload []byte) string {
	var env idsOnly
	var ids []string
	if err := json.Unmarshal(payload, &env); err == nil {
		for _, e := range env.Entry {
			for _, c := range e.Changes {
				for _, m := range c.Value.Messages {
					if m.ID != "" {
						ids = append(ids, "m:"+m.ID)
					}
				}
				for _, s := range c.Value.Statuses {
					if s.ID != "" {
						ids = append(ids, "s:"+s.ID+":"+strings.ToLower(s.Status))
					}
				}
			}
		}
	}
	if len(ids) == 0 {
		return "body:" + digest(payload)
	}
	sort.Strings(ids)
	return "ids:" + digest([]byte(strings.Join(ids, ",")))
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
