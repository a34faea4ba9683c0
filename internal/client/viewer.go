package client

import (
	"fmt"
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"knifearena/pkg/core"
)

// 调试视图参数
const (
	ScreenWidth  = 800
	ScreenHeight = 800
	FPS          = 60
)

var (
	viewerFont = text.NewGoXFace(basicfont.Face7x13)

	arenaColor  = color.RGBA{30, 32, 38, 255}
	gridColor   = color.RGBA{50, 54, 62, 255}
	localColor  = color.RGBA{90, 200, 120, 255}
	remoteColor = color.RGBA{120, 150, 220, 255}
	deadColor   = color.RGBA{90, 90, 90, 255}
	targetColor = color.RGBA{220, 180, 80, 180}
	textColor   = color.RGBA{220, 220, 220, 255}
)

// Viewer 网络调试视图：左键点击下发移动指令，
// 叠加层显示 RTT、偏移、插值延迟与对账统计。
type Viewer struct {
	session *Session
	lastErr error
	lostMsg string
}

// NewViewer 创建调试视图
func NewViewer(session *Session) *Viewer {
	v := &Viewer{session: session}
	session.OnConnectionLost(func(reason string) {
		v.lostMsg = "连接丢失: " + reason
	})
	session.OnReconnected(func() {
		v.lostMsg = ""
	})
	return v
}

// Update 每帧驱动会话并采集输入
func (v *Viewer) Update() error {
	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) && v.session.Ready() {
		mx, my := ebiten.CursorPosition()
		wx, wz := screenToWorld(mx, my)
		if _, err := v.session.SendMove(wx, wz); err != nil {
			v.lastErr = err
		} else {
			v.lastErr = nil
		}
	}

	v.session.Update()
	return nil
}

// Draw 绘制竞技场、玩家与统计叠加层
func (v *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(arenaColor)
	drawGrid(screen)

	// 远端玩家
	for _, p := range v.session.RemotePlayers() {
		drawPlayer(screen, p, remoteColor)
	}

	// 本地玩家与移动目标
	if local := v.session.LocalPlayer(); local != nil {
		if local.IsMoving {
			tx, ty := worldToScreen(local.Target.X, local.Target.Z)
			vector.StrokeCircle(screen, tx, ty, 6, 1.5, targetColor, true)
			px, py := worldToScreen(local.Pos.X, local.Pos.Z)
			vector.StrokeLine(screen, px, py, tx, ty, 1, targetColor, true)
		}
		drawPlayer(screen, local, localColor)
	}

	v.drawOverlay(screen)
}

// Layout 固定逻辑分辨率
func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return ScreenWidth, ScreenHeight
}

func (v *Viewer) drawOverlay(screen *ebiten.Image) {
	stats := v.session.Stats()

	lines := []string{
		fmt.Sprintf("玩家 #%d  连接: %v", v.session.PlayerID(), stats.Connected),
		fmt.Sprintf("RTT %.1fms  抖动 %.1fms  时钟偏移 %.1fms", stats.RTTMs, stats.JitterMs, stats.OffsetMs),
		fmt.Sprintf("插值延迟 %dms  快照抖动 %.1fms", stats.InterpolationDelayMs, stats.SnapshotJitterMs),
		fmt.Sprintf("未确认输入 %d  确认游标 %d", stats.PendingInputs, stats.AckCursor),
		fmt.Sprintf("对账 %d 次  瞬移 %d 次  最大偏差 %.2f", stats.Corrections.Count, stats.Corrections.Teleports, stats.Corrections.Max),
		fmt.Sprintf("入站 %d 包 / %d B  出站 %d 包 / %d B", stats.MessagesIn, stats.BytesIn, stats.MessagesOut, stats.BytesOut),
	}
	if v.lostMsg != "" {
		lines = append(lines, v.lostMsg+fmt.Sprintf("  重连第 %d 次", stats.ReconnectAttempt))
	}
	if v.lastErr != nil {
		lines = append(lines, "发送失败: "+v.lastErr.Error())
	}

	for i, line := range lines {
		options := &text.DrawOptions{}
		options.GeoM.Translate(8, float64(8+i*16))
		options.ColorScale.ScaleWithColor(textColor)
		text.Draw(screen, line, viewerFont, options)
	}
}

func drawPlayer(screen *ebiten.Image, p *core.Player, c color.RGBA) {
	x, y := worldToScreen(p.Pos.X, p.Pos.Z)
	fill := c
	if !p.Alive {
		fill = deadColor
	}
	vector.DrawFilledCircle(screen, x, y, 8, fill, true)
	vector.StrokeCircle(screen, x, y, 8, 1.5, color.RGBA{0, 0, 0, 160}, true)

	// 朝向指示
	hx := x + float32(math.Cos(p.Heading))*12
	hy := y + float32(math.Sin(p.Heading))*12
	vector.StrokeLine(screen, x, y, hx, hy, 2, fill, true)

	// 血条
	if p.Alive {
		ratio := float32(p.Health) / float32(core.DefaultHealth)
		vector.DrawFilledRect(screen, x-10, y-16, 20, 3, color.RGBA{60, 60, 60, 200}, false)
		vector.DrawFilledRect(screen, x-10, y-16, 20*ratio, 3, color.RGBA{200, 70, 70, 255}, false)
	}
}

func drawGrid(screen *ebiten.Image) {
	const step = 10.0
	for w := -core.ArenaBound; w <= core.ArenaBound; w += step {
		x, _ := worldToScreen(w, 0)
		_, y := worldToScreen(0, w)
		vector.StrokeLine(screen, x, 0, x, ScreenHeight, 1, gridColor, false)
		vector.StrokeLine(screen, 0, y, ScreenWidth, y, 1, gridColor, false)
	}
}

// worldToScreen 把竞技场坐标 [-ArenaBound, ArenaBound] 映射到屏幕像素
func worldToScreen(x, z float64) (float32, float32) {
	sx := (x + core.ArenaBound) / (2 * core.ArenaBound) * ScreenWidth
	sy := (z + core.ArenaBound) / (2 * core.ArenaBound) * ScreenHeight
	return float32(sx), float32(sy)
}

func screenToWorld(sx, sy int) (float64, float64) {
	x := float64(sx)/ScreenWidth*(2*core.ArenaBound) - core.ArenaBound
	z := float64(sy)/ScreenHeight*(2*core.ArenaBound) - core.ArenaBound
	return x, z
}
