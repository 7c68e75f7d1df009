// Package suite runs Go-defined test suites against a wasm edge function.
//
// A suite binds one wasm source (file path or raw bytes) to a list of named
// cases. Each case receives a freshly created runner for the module's
// detected execution model, drives full flows through it, and asserts on the
// uniform flow result. Cases run sequentially; a failing or panicking case
// never leaks its session, and never stops the cases after it.
//
//	s, err := suite.Define(suite.Config{
//		Path: "filter.wasm",
//		Cases: []suite.Case{
//			{Name: "adds header", Run: func(t *suite.T) error {
//				res, err := t.Flow(suite.FlowOptions{URL: "http://example.com/"})
//				if err != nil {
//					return err
//				}
//				return suite.AssertResponseHeader(res, "X-Filtered", "yes")
//			}},
//		},
//	})
//	summary, err := s.Run(ctx)
package suite
