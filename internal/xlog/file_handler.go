package xlog

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// FileHandler writes logfmt text lines to a size/age-rotated file, using
// the same rotation library the teacher's daemon config wires for its own
// log output.
func FileHandler(path string, maxSizeMB, maxBackups, maxAgeDays int) Handler {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	var mu sync.Mutex
	return funcHandler(func(r *Record) error {
		buf := &bytes.Buffer{}
		fmt.Fprintf(buf, "t=%s lvl=%s msg=%q", r.Time.Format(time.RFC3339), r.Lvl, r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(buf, " %v=%v", r.Ctx[i], formatValue(r.Ctx[i+1]))
		}
		buf.WriteByte('\n')
		mu.Lock()
		defer mu.Unlock()
		_, err := lj.Write(buf.Bytes())
		return err
	})
}
