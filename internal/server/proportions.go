package server

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/experr"
)

// groupProportions is a JSON object of label to share whose key order is
// the group order. encoding/json maps lose that order, so it is read from
// the token stream.
type groupProportions struct {
	bucket.Proportions
}

func defaultProportions() groupProportions {
	return groupProportions{bucket.Proportions{
		{Label: "control", Percent: 50},
		{Label: "treatment", Percent: 50},
	}}
}

func (g *groupProportions) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return experr.Configf("groupProportions must be an object of group to share")
	}

	var out bucket.Proportions
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, _ := keyTok.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		pct, err := bucket.ParsePercent(raw)
		if err != nil {
			return err
		}
		out = append(out, bucket.Share{Label: label, Percent: pct})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	g.Proportions = out
	return nil
}

// MarshalJSON writes the shares back as an object in group order.
func (g groupProportions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range g.Proportions {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(s.Percent))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
