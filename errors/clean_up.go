// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import "fmt"

// CleanUp is defer-able syntactic sugar that calls f and reports an error, if any,
// to *err. Pass the caller's named return error. Example usage:
//
//	func fetch(req *http.Request) (_ []byte, err error) {
//		resp, err := client.Do(req)
//		if err != nil { ... }
//		defer errors.CleanUp(resp.Body.Close, &err)
//		...
//	}
//
// If the caller returns with its own error, any error from cleanUp is
// appended to the message rather than chained as the cause.
func CleanUp(cleanUp func() error, dst *error) {
	err := cleanUp()
	if err == nil {
		return
	}
	if *dst == nil {
		*dst = err
		return
	}
	*dst = E(*dst, fmt.Sprintf("second error in Close: %v", err))
}
