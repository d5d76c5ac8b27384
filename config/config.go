package config

import (
	"bufio"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/beansdb-go/beansdb/lib/logger"
)

// DefaultConfPath is read when no config file is named on the command line.
const DefaultConfPath = "beansdb.conf"

// Properties holds the effective, already-merged configuration.
var Properties = defaultProperties()

// ServerProperties holds every CLI-flag/config-file-tunable knob,
// plus the ambient knobs (buffer sizing, freelist capacity) that have
// no CLI flag of their own.
type ServerProperties struct {
	Bind string `cfg:"bind"`
	Port int    `cfg:"port"`

	Home string `cfg:"home"`

	Threads       int `cfg:"threads"`
	MaxKeyLength  int `cfg:"max-key-length"`
	MaxValueBytes int `cfg:"max-value-length"`

	FlushIntervalSecs int `cfg:"flush-interval-secs"`
	FlushLimitKB      int `cfg:"flush-limit-kb"`

	Height     int `cfg:"height"`
	BeforeTime int `cfg:"before-time"`

	ReadBufferSize  int `cfg:"read-buffer-size"`
	ItemBufferSize  int `cfg:"item-buffer-size"`
	ConnFreelistCap int `cfg:"conn-freelist-size"`

	NoreplyStats bool `cfg:"noreply-stats"`
	StopEnable   bool `cfg:"stop-enable"`
	SlowCmdMs    int  `cfg:"slow-cmd-ms"`

	Engine string `cfg:"engine"` // "loop" or "gnet"
}

func defaultProperties() *ServerProperties {
	return &ServerProperties{
		Bind:              "0.0.0.0",
		Port:              7900,
		Home:              "./data",
		Threads:           4,
		MaxKeyLength:      250,
		MaxValueBytes:     50 << 20,
		FlushIntervalSecs: 60,
		FlushLimitKB:      16384,
		Height:            16,
		BeforeTime:        0,
		ReadBufferSize:    16 * 1024,
		ItemBufferSize:    8 * 1024,
		ConnFreelistCap:   4096,
		NoreplyStats:      true,
		StopEnable:        false,
		SlowCmdMs:         100,
		Engine:            "loop",
	}
}

// parse overlays key/value pairs read from src onto a copy of the
// current defaults.
func parse(src io.Reader) *ServerProperties {
	cfg := defaultProperties()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		pivot := strings.IndexAny(line, " \t")
		if pivot > 0 && pivot < len(line)-1 {
			key := line[:pivot]
			value := strings.TrimSpace(line[pivot+1:])
			raw[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal(err)
	}

	t := reflect.TypeOf(cfg).Elem()
	v := reflect.ValueOf(cfg).Elem()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok {
			key = strings.ToLower(field.Name)
		}
		value, ok := raw[key]
		if !ok {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(value)
		case reflect.Int:
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				fv.SetInt(n)
			}
		case reflect.Bool:
			fv.SetBool(toBool(value))
		}
	}
	return cfg
}

// Setup loads configFilename (DefaultConfPath when configFilename is
// empty) into Properties; if that file does not exist, the built-in
// defaults are kept.
func Setup(configFilename string) {
	if configFilename == "" {
		configFilename = DefaultConfPath
	}
	f, err := os.Open(configFilename)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("no config file at %s, using defaults", configFilename)
			return
		}
		logger.Fatal(err)
		return
	}
	defer f.Close()
	Properties = parse(f)
}

func toBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "t", "y", "1":
		return true
	default:
		return false
	}
}
