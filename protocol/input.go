package protocol

// NewUserMessage constructs the input envelope for a list of content blocks.
func NewUserMessage(blocks []ContentBlock) UserMessageToSend {
	return UserMessageToSend{
		Type: "user",
		Message: UserMessageToSendInner{
			Role:    "user",
			Content: blocks,
		},
	}
}

// NewPermissionAllow constructs a control_response that grants tool execution.
//
// input must be a non-nil map; pass the original CanUseToolRequest.Input when
// no modifications are needed (the wire format forbids a null updatedInput).
func NewPermissionAllow(requestID string, input map[string]interface{}) ControlResponse {
	if input == nil {
		input = map[string]interface{}{}
	}
	return ControlResponse{
		Type: MessageTypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response: PermissionResultAllow{
				Behavior:     PermissionBehaviorAllow,
				UpdatedInput: input,
			},
		},
	}
}

// NewPermissionDeny constructs a control_response that blocks tool execution.
//
// message is the human-readable reason shown to the user.
// interrupt signals the agent to stop the current turn rather than continue.
func NewPermissionDeny(requestID string, message string, interrupt bool) ControlResponse {
	return ControlResponse{
		Type: MessageTypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response: PermissionResultDeny{
				Behavior:  PermissionBehaviorDeny,
				Message:   message,
				Interrupt: interrupt,
			},
		},
	}
}

// NewQuestionAnswer constructs the allow response for a clarifying-question
// request. The answers nest under a dedicated "answers" key inside
// updatedInput, preserving the original questions object alongside.
// Answers are never spread flat into the top level.
func NewQuestionAnswer(requestID string, originalInput map[string]interface{}, answers map[string]string) ControlResponse {
	updatedInput := make(map[string]interface{}, len(originalInput)+1)
	for k, v := range originalInput {
		updatedInput[k] = v
	}
	updatedInput["answers"] = answers
	return NewPermissionAllow(requestID, updatedInput)
}

// NewInterrupt constructs a control_request that interrupts the current turn.
func NewInterrupt(requestID string) ControlRequestToSend {
	return ControlRequestToSend{
		Type:      "control_request",
		RequestID: requestID,
		Request:   InterruptRequestToSend{Subtype: "interrupt"},
	}
}

// NewSetPermissionMode constructs a control_request that changes the CLI permission mode.
func NewSetPermissionMode(requestID, mode string) ControlRequestToSend {
	return ControlRequestToSend{
		Type:      "control_request",
		RequestID: requestID,
		Request:   SetPermissionModeRequestToSend{Subtype: "set_permission_mode", Mode: mode},
	}
}

// NewSetModel constructs a control_request that switches the active model.
func NewSetModel(requestID, model string) ControlRequestToSend {
	return ControlRequestToSend{
		Type:      "control_request",
		RequestID: requestID,
		Request:   SetModelRequestToSend{Subtype: "set_model", Model: model},
	}
}
