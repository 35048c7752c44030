package utils

import "errors"

// ErrorUnknownListTable guards every dynamically named list-table mutation;
// callers wrap it with the offending table name.
var ErrorUnknownListTable = errors.New("unknown list table")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
