/*
Package authsdk provides a client SDK for the identity service.

# SDKClient vs Session

SDKClient covers the unauthenticated endpoints and creates sessions:

	client := authsdk.NewSDKClient("https://identity.example.com")

	session, err := client.Signin(ctx, authsdk.SigninRequest{Email: email, Password: pw})

A Session carries the access and refresh tokens and refreshes the access
token shortly before it expires, so callers never handle rotation:

	usage, err := session.Usage(ctx)
	upload, err := session.ConsumeUpload(ctx, idempotencyKey)

# Errors

Every non-2xx response becomes an *APIError. QuotaExceeded responses carry
the limit and remaining counts:

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.IsQuotaExceeded() {
		fmt.Printf("daily limit of %d reached\n", *apiErr.Limit)
	}

The request and response types in this package are also what the service
decodes and encodes, so both sides share one definition of the wire format.
*/
package authsdk
