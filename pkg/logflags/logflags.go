package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var refsearch = false
var target = false
var starbind = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// RefSearch returns true if the reference search engine should log.
func RefSearch() bool {
	return refsearch
}

// RefSearchLogger returns a logger for the reference search engine.
func RefSearchLogger() *logrus.Entry {
	return makeLogger(refsearch, logrus.Fields{"layer": "refsearch"})
}

// Target returns true if the target packages (live process, ELF file)
// should log.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the target packages.
func TargetLogger() *logrus.Entry {
	return makeLogger(target, logrus.Fields{"layer": "target"})
}

// Starbind returns true if starlark predicate evaluation should log its
// recoverable errors.
func Starbind() bool {
	return starbind
}

// StarbindLogger returns a logger for starlark predicate evaluation.
func StarbindLogger() *logrus.Entry {
	return makeLogger(starbind, logrus.Fields{"layer": "starbind"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets component logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "refsearch"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "refsearch":
			refsearch = true
		case "target":
			target = true
		case "starbind":
			starbind = true
		}
	}
	return nil
}
