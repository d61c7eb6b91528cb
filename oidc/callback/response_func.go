// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"
)

// ResponseFunc is used by a Listener to answer the browser request which
// carried the redirect.  It's invoked once, for the single delivered request,
// before validation of the redirect takes place; so it should not claim
// success or failure of the overall authentication attempt.
type ResponseFunc func(w http.ResponseWriter, req *http.Request)

const responseHTML = `<!DOCTYPE html>
<html>
<head><title>Authentication Received</title></head>
<body style="font-family:sans-serif;text-align:center;padding:4rem">
  <h1>Authentication response received</h1>
  <p>You can close this window and return to the application.</p>
</body>
</html>
`

// SuccessResponse is the default ResponseFunc.  It writes a small html page
// telling the user to return to the application.
func SuccessResponse(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(responseHTML))
}
