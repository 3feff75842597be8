// Package xlog is a small log15-style structured logger, grounded on the
// teacher's own log/logger.go: a Logger writes key/value context pairs
// through a swappable Handler, levels are Crit..Trace, and callsite capture
// comes from go-stack/stack. Unlike the teacher's copy (which hard-wires
// glog), Handler is pluggable so the daemon can point it at a terminal, a
// JSON sink, or a rotating file.
package xlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
)

type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlTrace:
		return "trce"
	case LvlDebug:
		return "dbug"
	case LvlInfo:
		return "info"
	case LvlWarn:
		return "warn"
	case LvlError:
		return "eror"
	case LvlCrit:
		return "crit"
	default:
		return "????"
	}
}

// Ctx is a shorthand for passing a pre-built key/value context.
type Ctx map[string]interface{}

func (c Ctx) toArray() []interface{} {
	arr := make([]interface{}, 0, len(c)*2)
	for k, v := range c {
		arr = append(arr, k, v)
	}
	return arr
}

// Record is one log event handed to a Handler.
type Record struct {
	Time  time.Time
	Lvl   Lvl
	Msg   string
	Ctx   []interface{}
	Call  stack.Call
}

// Handler writes a Record somewhere.
type Handler interface {
	Log(r *Record) error
}

type funcHandler func(r *Record) error

func (f funcHandler) Log(r *Record) error { return f(r) }

// Logger is the teacher's Logger interface, unchanged in shape.
type Logger interface {
	New(ctx ...interface{}) Logger
	GetHandler() Handler
	SetHandler(h Handler)

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type swapHandler struct {
	mu sync.RWMutex
	h  Handler
}

func (s *swapHandler) Log(r *Record) error {
	s.mu.RLock()
	h := s.h
	s.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h.Log(r)
}

func (s *swapHandler) Swap(h Handler) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

func (s *swapHandler) Get() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h
}

const skipLevel = 3

type logger struct {
	ctx []interface{}
	h   *swapHandler
}

// New creates a root logger writing to a DiscardHandler until SetHandler is
// called.
func New(ctx ...interface{}) Logger {
	l := &logger{ctx: normalize(ctx), h: new(swapHandler)}
	l.h.Swap(DiscardHandler())
	return l
}

func (l *logger) write(msg string, lvl Lvl, ctx []interface{}) {
	r := &Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  newContext(l.ctx, ctx),
		Call: stack.Caller(skipLevel),
	}
	l.h.Log(r)
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{ctx: newContext(l.ctx, ctx), h: new(swapHandler)}
	child.h.Swap(l.h.Get())
	return child
}

func newContext(prefix, suffix []interface{}) []interface{} {
	norm := normalize(suffix)
	out := make([]interface{}, len(prefix)+len(norm))
	n := copy(out, prefix)
	copy(out[n:], norm)
	return out
}

func normalize(ctx []interface{}) []interface{} {
	if len(ctx) == 1 {
		if m, ok := ctx[0].(Ctx); ok {
			ctx = m.toArray()
		}
	}
	if len(ctx)%2 != 0 {
		ctx = append(ctx, nil, "xlog_error", "normalized odd number of arguments")
	}
	return ctx
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(msg, LvlTrace, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(msg, LvlDebug, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(msg, LvlInfo, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(msg, LvlWarn, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(msg, LvlError, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(msg, LvlCrit, ctx)
	os.Exit(1)
}

func (l *logger) GetHandler() Handler { return l.h.Get() }
func (l *logger) SetHandler(h Handler) { l.h.Swap(h) }

// Root is the package-level default logger, as in the teacher's log15-style
// global root.
var Root = New()

func SetHandler(h Handler) { Root.SetHandler(h) }

func Trace(msg string, ctx ...interface{}) { Root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root.Crit(msg, ctx...) }

// DiscardHandler drops every record.
func DiscardHandler() Handler {
	return funcHandler(func(r *Record) error { return nil })
}

// StreamHandler writes logfmt-ish text lines: `t=... lvl=... msg=... k=v ...`.
func StreamHandler(w *os.File) Handler {
	return streamWriterHandler(w)
}

func formatValue(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t\n\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// JSONHandler writes one JSON object per record, for log collectors that
// expect structured lines rather than logfmt text.
func JSONHandler(w io.Writer) Handler {
	var mu sync.Mutex
	return funcHandler(func(r *Record) error {
		fields := make(map[string]interface{}, len(r.Ctx)/2+4)
		fields["t"] = r.Time.Format(time.RFC3339)
		fields["lvl"] = r.Lvl.String()
		fields["msg"] = r.Msg
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fields[fmt.Sprintf("%v", r.Ctx[i])] = r.Ctx[i+1]
		}
		line, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = w.Write(append(line, '\n'))
		return err
	})
}

func streamWriterHandler(w io.Writer) Handler {
	var mu sync.Mutex
	return funcHandler(func(r *Record) error {
		buf := &bytes.Buffer{}
		fmt.Fprintf(buf, "t=%s lvl=%s msg=%q", r.Time.Format(time.RFC3339), r.Lvl, r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(buf, " %v=%v", r.Ctx[i], formatValue(r.Ctx[i+1]))
		}
		fmt.Fprintf(buf, " src=%+v\n", r.Call)
		mu.Lock()
		defer mu.Unlock()
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// LvlFilterHandler drops records above (less severe than) maxLvl before
// forwarding to h.
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return funcHandler(func(r *Record) error {
		if r.Lvl > maxLvl {
			return nil
		}
		return h.Log(r)
	})
}

// MultiHandler fans a record out to every handler in hs.
func MultiHandler(hs ...Handler) Handler {
	return funcHandler(func(r *Record) error {
		var firstErr error
		for _, h := range hs {
			if err := h.Log(r); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}
