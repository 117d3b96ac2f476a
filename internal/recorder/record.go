package recorder

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"l4book/pkg/exception"
)

// Record is one line of a segment: a raw wire message and the time it was
// received.
type Record struct {
	RecvTs int64           `json:"recvTs"`
	Msg    json.RawMessage `json:"msg"`
}

// appendRecord writes r as a single JSON line. Messages spanning several
// lines are compacted first.
func appendRecord(dst []byte, recvTs int64, msg []byte) ([]byte, error) {
	if bytes.ContainsAny(msg, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return dst, errors.Wrap(err, "compact message")
		}
		msg = buf.Bytes()
	}
	if !sonic.ConfigStd.Valid(msg) {
		return dst, errors.Wrap(exception.ErrRecordCorrupted, "message is not valid json")
	}

	dst = append(dst, `{"recvTs":`...)
	dst = strconv.AppendInt(dst, recvTs, 10)
	dst = append(dst, `,"msg":`...)
	dst = append(dst, msg...)
	dst = append(dst, '}', '\n')
	return dst, nil
}

func decodeRecord(line []byte) (Record, error) {
	var r Record
	if err := sonic.ConfigStd.Unmarshal(line, &r); err != nil {
		return Record{}, errors.Wrapf(exception.ErrRecordCorrupted, "unmarshal line, err: %s", err.Error())
	}
	if len(r.Msg) == 0 {
		return Record{}, errors.Wrap(exception.ErrRecordCorrupted, "missing msg")
	}
	return r, nil
}
