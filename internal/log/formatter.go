package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	defaultPattern = "%time %level %field %msg%n"
	defaultTime    = "15:04:05.000"
)

type formatter struct {
	pattern string
	time    string
}

// Format renders the placeholders %time, %level, %field, %msg and %n (newline). An empty
// %field takes its trailing space with it.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.Format(f.time), 1)
	output = strings.Replace(output, "%level", strings.ToUpper(entry.Level.String()), 1)
	if fields := buildFields(entry); fields != "" {
		output = strings.Replace(output, "%field", fields, 1)
	} else {
		output = strings.Replace(strings.Replace(output, "%field ", "", 1), "%field", "", 1)
	}
	output = strings.Replace(output, "%msg", entry.Message, 1)
	output = strings.ReplaceAll(output, "%n", "\n")
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return []byte(output), nil
}

func buildFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		stringVal, ok := val.(string)
		if !ok {
			stringVal = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+stringVal)
	}
	sort.Strings(fields)
	return strings.Join(fields, ",")
}
