package miio

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cybre/deskbridge/internal/errors"
)

type command struct {
	ID     int           `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func newCommand(id int, method string, params ...interface{}) command {
	if params == nil {
		params = []interface{}{}
	}

	return command{
		ID:     id,
		Method: method,
		Params: params,
	}
}

func (c *command) Bytes() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal miio command")
	}

	return b, nil
}

type commandError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

type commandResult struct {
	ID     int           `json:"id"`
	Result Result        `json:"result"`
	Error  *commandError `json:"error"`
}

// Result holds the raw values a device returned for a call.
type Result []json.RawMessage

// String returns the i-th value as a string. Numbers are formatted.
func (r Result) String(i int) (string, error) {
	if i >= len(r) {
		return "", errors.Errorf("result has %d values, want index %d", len(r), i)
	}

	var s string
	if err := json.Unmarshal(r[i], &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(r[i], &n); err != nil {
		return "", errors.Wrapf(err, "decode result value %s", r[i])
	}

	return n.String(), nil
}

// Int returns the i-th value as an integer. Devices report numbers either
// bare or quoted, both are accepted.
func (r Result) Int(i int) (int, error) {
	s, err := r.String(i)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "convert result value %q to int", s)
	}

	return n, nil
}

// OK reports whether the device acknowledged a write.
func (r Result) OK() bool {
	s, err := r.String(0)

	return err == nil && s == "ok"
}
