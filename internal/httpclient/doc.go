// Package httpclient builds and sends the requests of http steps.
//
// A [RequestBuilder] is created once per step from its declaration and shared by
// all iterations. [RequestBuilder.Build] expands {{name}} placeholders in the
// URL, headers and body from the iteration's variables and input record:
//
//	builder, err := httpclient.NewRequestBuilder(baseURL, httpclient.Request{
//		Method: "POST",
//		URL:    "/users/{{user_id}}",
//		Body:   `{"name":"{{name}}"}`,
//	}, nil)
//	req, err := builder.Build(ctx, vars)
//
// [NewClient] returns a client with connection pooling sized for load tests.
// Responses with an unexpected status are reported as [*StatusError].
package httpclient
