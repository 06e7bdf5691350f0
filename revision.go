package docsync

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

type (
	// RevisionMarker identifies one version of one document.
	RevisionMarker struct {
		DocID string `json:"id"`
		RevID string `json:"rev"`
	}

	// RevisionInfo is the revision frontier known for a document. It is only
	// built for diffing.
	RevisionInfo struct {
		DocID string   `json:"id"`
		Revs  []string `json:"revs"`
	}
)

func (ri RevisionInfo) Markers() []RevisionMarker {
	out := make([]RevisionMarker, len(ri.Revs))
	for i, rev := range ri.Revs {
		out[i] = RevisionMarker{DocID: ri.DocID, RevID: rev}
	}
	return out
}

// DiffRevisions returns, per document, the claimed revisions for which has
// reports false. Claims for the same document are merged, documents keep the
// order of their first claim and those with nothing missing are left out.
func DiffRevisions(claims []RevisionInfo, has func(docID, rev string) bool) []RevisionInfo {
	index := make(map[string]int)
	seen := make(map[RevisionMarker]bool)
	var out []RevisionInfo

	for _, claim := range claims {
		for _, rev := range claim.Revs {
			m := RevisionMarker{DocID: claim.DocID, RevID: rev}
			if seen[m] {
				continue
			}
			seen[m] = true
			if has(claim.DocID, rev) {
				continue
			}
			i, ok := index[claim.DocID]
			if !ok {
				i = len(out)
				index[claim.DocID] = i
				out = append(out, RevisionInfo{DocID: claim.DocID})
			}
			out[i].Revs = append(out[i].Revs, rev)
		}
	}
	return out
}

// NewRevisionID returns the id of generation gen of a document with the given
// body. The "_rev" member does not take part in the digest.
func NewRevisionID(gen int, body map[string]any) (string, error) {
	digestable := make(map[string]any, len(body))
	for k, v := range body {
		if k == FieldRev {
			continue
		}
		digestable[k] = v
	}
	// encoding/json sorts map keys, so equal bodies hash equally.
	data, err := json.Marshal(digestable)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%d-%s", gen, hex.EncodeToString(sum[:16])), nil
}

// ParseRevision splits a revision id of the form "N-hash".
func ParseRevision(rev string) (gen int, hash string, err error) {
	genStr, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, "", fmt.Errorf("invalid revision %q", rev)
	}
	gen, err = strconv.Atoi(genStr)
	if err != nil || gen < 1 {
		return 0, "", fmt.Errorf("invalid revision %q", rev)
	}
	return gen, hash, nil
}

// RevisionLess orders revisions by generation, then by hash. The greatest
// revision of a document is its winner. Unparseable ids sort first.
func RevisionLess(a, b string) bool {
	ga, ha, erra := ParseRevision(a)
	gb, hb, errb := ParseRevision(b)
	switch {
	case erra != nil && errb != nil:
		return a < b
	case erra != nil:
		return true
	case errb != nil:
		return false
	case ga != gb:
		return ga < gb
	}
	return ha < hb
}

// WinningRevision returns the greatest of revs, or "" when revs is empty.
func WinningRevision(revs []string) string {
	winner := ""
	for _, rev := range revs {
		if winner == "" || RevisionLess(winner, rev) {
			winner = rev
		}
	}
	return winner
}
