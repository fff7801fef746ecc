package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"creatorswap/internal/model"
)

var (
	ErrMalformedOperation = errors.New("replay: malformed operation")
	ErrUnknownOperation   = errors.New("replay: unknown operation")
	ErrInvalidAddress     = errors.New("replay: invalid address")
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, input)
	}
	return common.HexToAddress(input), nil
}

// ReadOperations decodes an operations log. Line numbers start at 1 and
// count blank lines. Lines that do not decode are returned as errors and do
// not stop the read.
func ReadOperations(r io.Reader) ([]model.Operation, []model.OpError, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var (
		ops     []model.Operation
		invalid []model.OpError
		line    uint64
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var op model.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			invalid = append(invalid, model.OpError{
				Line:  line,
				Code:  "malformed_operation",
				Error: fmt.Errorf("%w: %v", ErrMalformedOperation, err).Error(),
			})
			continue
		}
		op.Line = line
		if err := validate(op); err != nil {
			invalid = append(invalid, model.OpError{
				Line:    line,
				Op:      op.Op,
				TokenID: op.TokenID,
				At:      op.Timestamp,
				Code:    code(err),
				Error:   err.Error(),
			})
			continue
		}
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan input: %w", err)
	}
	return ops, invalid, nil
}

func validate(op model.Operation) error {
	switch op.Op {
	case model.OpRegisterPool, model.OpStartDiscovery, model.OpRecordSnapshot,
		model.OpCompleteDiscovery, model.OpAddLiquidity, model.OpWithdrawLiquidity, model.OpSwap:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op.Op)
	}
	if op.Timestamp.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrMalformedOperation)
	}
	if strings.TrimSpace(op.TokenID) == "" {
		return fmt.Errorf("%w: token_id is required", ErrMalformedOperation)
	}
	return nil
}
