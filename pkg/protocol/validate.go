package protocol

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidCoordinate = errors.New("非法坐标")
	ErrInvalidSequence   = errors.New("非法输入序号")
)

// ValidateMove 校验移动指令：坐标必须是有限数且在边界内，序号必须为正。
// 校验失败的消息在编解码层直接丢弃，绝不进入状态。
func ValidateMove(cmd *MoveCmd, bound float64) error {
	if cmd == nil {
		return fmt.Errorf("%w: 空指令", ErrInvalidCoordinate)
	}
	if err := validateCoord(cmd.TargetX, bound); err != nil {
		return err
	}
	if err := validateCoord(cmd.TargetZ, bound); err != nil {
		return err
	}
	if cmd.Seq <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSequence, cmd.Seq)
	}
	return nil
}

// ValidateAction 校验动作指令
func ValidateAction(cmd *ActionCmd, bound float64) error {
	if cmd == nil {
		return fmt.Errorf("%w: 空指令", ErrInvalidCoordinate)
	}
	if err := validateCoord(cmd.TargetX, bound); err != nil {
		return err
	}
	return validateCoord(cmd.TargetZ, bound)
}

func validateCoord(x, bound float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("%w: 非有限数", ErrInvalidCoordinate)
	}
	if math.Abs(x) > bound {
		return fmt.Errorf("%w: %.2f 超出边界 %.2f", ErrInvalidCoordinate, x, bound)
	}
	return nil
}
