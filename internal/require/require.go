// Package require provides test assertions that fail the test immediately.
package require

import (
	"reflect"
	"testing"

	"github.com/chunkgrid/zarr/internal/errors"
)

func logMessage(tb testing.TB, msgAndArgs ...interface{}) {
	if len(msgAndArgs) == 1 {
		tb.Logf(msgAndArgs[0].(string))
	}
	if len(msgAndArgs) > 1 {
		tb.Logf(msgAndArgs[0].(string), msgAndArgs[1:]...)
	}
}

// Equal fails the test if expected and actual are not deeply equal.
func Equal(tb testing.TB, expected interface{}, actual interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(expected, actual) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Not equal: %#v (expected)\n"+
			"        != %#v (actual)", expected, actual)
	}
}

// NotEqual fails the test if expected and actual are deeply equal.
func NotEqual(tb testing.TB, expected interface{}, actual interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if reflect.DeepEqual(expected, actual) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Should not be: %#v", actual)
	}
}

// NoError fails the test if err is not nil.
func NoError(tb testing.TB, err error, msgAndArgs ...interface{}) {
	tb.Helper()
	if err != nil {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("No error is expected but got %v", err)
	}
}

// YesError fails the test if err is nil.
func YesError(tb testing.TB, err error, msgAndArgs ...interface{}) {
	tb.Helper()
	if err == nil {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Error is expected but got %v", err)
	}
}

// ErrorIs fails the test if err's chain does not contain target.
func ErrorIs(tb testing.TB, err, target error, msgAndArgs ...interface{}) {
	tb.Helper()
	if !errors.Is(err, target) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected error chain of %v to contain %v", err, target)
	}
}

// NotNil fails the test if object is nil.
func NotNil(tb testing.TB, object interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	success := true

	if object == nil {
		success = false
	} else {
		value := reflect.ValueOf(object)
		kind := value.Kind()
		if kind >= reflect.Chan && kind <= reflect.Slice && value.IsNil() {
			success = false
		}
	}

	if !success {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected value not to be nil.")
	}
}

// Nil fails the test if object is not nil.
func Nil(tb testing.TB, object interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if object == nil {
		return
	}
	value := reflect.ValueOf(object)
	kind := value.Kind()
	if kind >= reflect.Chan && kind <= reflect.Slice && value.IsNil() {
		return
	}

	logMessage(tb, msgAndArgs...)
	tb.Fatalf("Expected value to be nil, got %#v", object)
}

// True fails the test if value is false.
func True(tb testing.TB, value bool, msgAndArgs ...interface{}) {
	tb.Helper()
	if !value {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Should be true")
	}
}

// False fails the test if value is true.
func False(tb testing.TB, value bool, msgAndArgs ...interface{}) {
	tb.Helper()
	if value {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Should be false")
	}
}

// Len fails the test if object does not have length n.
func Len(tb testing.TB, object interface{}, n int, msgAndArgs ...interface{}) {
	tb.Helper()
	value := reflect.ValueOf(object)
	if value.Len() != n {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected length %d but got %d: %#v", n, value.Len(), object)
	}
}
