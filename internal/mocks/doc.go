// Package mocks provides shared mock implementations for testing.
//
// These mocks stand in for the external collaborators of the agent loop and the
// maintenance workflow: the inference service, the object store and the
// notification sink.
//
// # Usage
//
//	import "tenantops/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    mockLLM := mocks.NewMockLLMClient()
//	    mockLLM.RespondWithSequence([]llm.CompletionResponse{
//	        mocks.ToolUse("get_rent_status", nil),
//	        mocks.EndTurn("You owe £200."),
//	    })
//	    // Use mockLLM in test...
//	}
//
// # Available Mocks
//
//   - MockLLMClient: Mock for llm.LLMClient
//   - MockObjectStore: Mock for storage.Store
//   - MockPublisher: Mock for notify.Publisher
package mocks
