package world

import (
	"errors"
	"fmt"
)

// MaxDimension bounds each level axis to what the wire format can address.
const MaxDimension = 1024

// ErrDimensions reports an unusable level size.
var ErrDimensions = errors.New("invalid level dimensions")

// Environment holds the map aspect properties, in the order of their wire
// property ids.
type Environment struct {
	SideBlock    int `yaml:"side_block"`
	EdgeBlock    int `yaml:"edge_block"`
	EdgeHeight   int `yaml:"edge_height"`
	CloudHeight  int `yaml:"cloud_height"`
	ViewDistance int `yaml:"view_distance"`
	CloudSpeed   int `yaml:"cloud_speed"`
	WeatherSpeed int `yaml:"weather_speed"`
	WeatherFade  int `yaml:"weather_fade"`
	ExpFog       int `yaml:"exp_fog"`
	SideOffset   int `yaml:"side_offset"`
}

// Properties lists the environment values indexed by map property id.
func (e Environment) Properties() [10]int {
	return [10]int{
		e.SideBlock,
		e.EdgeBlock,
		e.EdgeHeight,
		e.CloudHeight,
		e.ViewDistance,
		e.CloudSpeed,
		e.WeatherSpeed,
		e.WeatherFade,
		e.ExpFog,
		e.SideOffset,
	}
}

// Environment colour slots.
const (
	ColorSky = iota
	ColorCloud
	ColorFog
	ColorAmbient
	ColorDiffuse
	ColorCount
)

// Color is an RGB triple. A component of -1 asks for the client default.
type Color struct {
	R, G, B int
}

// Unset reports whether the colour defers to the default.
func (c Color) Unset() bool {
	return c.R < 0 || c.G < 0 || c.B < 0
}

// DefaultColors are sent for unset slots.
var DefaultColors = [ColorCount]Color{
	ColorSky:     {153, 204, 255},
	ColorCloud:   {255, 255, 255},
	ColorFog:     {255, 255, 255},
	ColorAmbient: {155, 155, 155},
	ColorDiffuse: {255, 255, 255},
}

// Level is the block grid plus metadata streamed to every session. Y is the
// vertical axis. A level is owned by the world goroutine.
type Level struct {
	Name          string
	SpawnPosition Position
	SpawnRotation Rotation
	Environment   Environment
	Colors        [ColorCount]Color
	TextureURL    string
	Definitions   []BlockDefinition

	width, height, length int
	blocks                []uint16
}

// NewLevel allocates an all-air level.
func NewLevel(width, height, length int) (*Level, error) {
	for _, d := range []int{width, height, length} {
		if d <= 0 || d > MaxDimension {
			return nil, fmt.Errorf("%w: %dx%dx%d", ErrDimensions, width, height, length)
		}
	}
	l := &Level{
		width:  width,
		height: height,
		length: length,
		blocks: make([]uint16, width*height*length),
	}
	for i := range l.Colors {
		l.Colors[i] = Color{-1, -1, -1}
	}
	l.SpawnPosition = Standing(width/2, height/2, length/2)
	return l, nil
}

func (l *Level) Width() int  { return l.width }
func (l *Level) Height() int { return l.height }
func (l *Level) Length() int { return l.length }

// Volume is the number of blocks in the level.
func (l *Level) Volume() int { return len(l.blocks) }

// Index returns the flat index of (x, y, z): (y*length + z)*width + x.
func (l *Level) Index(x, y, z int) (int, bool) {
	if !l.InBounds(x, y, z) {
		return 0, false
	}
	return (y*l.length+z)*l.width + x, true
}

// Coords inverts Index.
func (l *Level) Coords(index int) (x, y, z int) {
	x = index % l.width
	z = (index / l.width) % l.length
	y = index / (l.width * l.length)
	return x, y, z
}

// InBounds reports whether (x, y, z) lies inside the level.
func (l *Level) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < l.width && y < l.height && z < l.length
}

// Block returns the block at (x, y, z), or air outside the level.
func (l *Level) Block(x, y, z int) uint16 {
	i, ok := l.Index(x, y, z)
	if !ok {
		return BlockAir
	}
	return l.blocks[i]
}

// SetBlock stores t at (x, y, z) and reports whether the block changed.
func (l *Level) SetBlock(x, y, z int, t uint16) bool {
	i, ok := l.Index(x, y, z)
	if !ok || l.blocks[i] == t {
		return false
	}
	l.blocks[i] = t
	return true
}

// Fill sets every block in the inclusive box to t.
func (l *Level) Fill(x0, y0, z0, x1, y1, z1 int, t uint16) {
	for y := max(y0, 0); y <= min(y1, l.height-1); y++ {
		for z := max(z0, 0); z <= min(z1, l.length-1); z++ {
			for x := max(x0, 0); x <= min(x1, l.width-1); x++ {
				l.blocks[(y*l.length+z)*l.width+x] = t
			}
		}
	}
}

// Snapshot copies the grid, passing every block through convert. It is used
// to hand a session-specific copy of the level to a streaming goroutine.
func (l *Level) Snapshot(convert func(uint16) byte) []byte {
	out := make([]byte, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = convert(b)
	}
	return out
}

// Definition returns the custom block definition for id.
func (l *Level) Definition(id uint16) (BlockDefinition, bool) {
	for _, d := range l.Definitions {
		if d.ID == id {
			return d, true
		}
	}
	return BlockDefinition{}, false
}
