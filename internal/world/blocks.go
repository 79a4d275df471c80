package world

// Block ids used by the server itself. Everything else is opaque.
const (
	BlockAir     uint16 = 0
	BlockStone   uint16 = 1
	BlockGrass   uint16 = 2
	BlockDirt    uint16 = 3
	BlockBedrock uint16 = 7
	BlockWater   uint16 = 8
	BlockSand    uint16 = 12

	// MaxOriginalBlock is the last id every client understands.
	MaxOriginalBlock uint16 = 49
	// MaxCustomBlock is the last id of the CustomBlocks level 1 range.
	MaxCustomBlock uint16 = 65
	// MaxByteBlock is the last id that fits without ExtendedBlocks.
	MaxByteBlock uint16 = 255
	// MaxExtendedBlock is the last id expressible in the bulk update format.
	MaxExtendedBlock uint16 = 1023
)

// customFallback maps ids 50..65 to the closest original block.
var customFallback = [...]uint16{
	44, // cobblestone slab -> slab
	39, // rope -> brown mushroom
	12, // sandstone -> sand
	0,  // snow -> air
	10, // fire -> lava
	33, // light pink wool -> pink wool
	25, // forest green wool -> green wool
	3,  // brown wool -> dirt
	29, // deep blue wool -> blue wool
	28, // turquoise wool -> cyan wool
	20, // ice -> glass
	42, // ceramic tile -> iron block
	49, // magma -> obsidian
	36, // pillar -> white wool
	5,  // crate -> planks
	1,  // stone brick -> stone
}

// CustomFallback returns the original block standing in for a CustomBlocks
// id, and false for ids outside that range.
func CustomFallback(id uint16) (uint16, bool) {
	if id <= MaxOriginalBlock || id > MaxCustomBlock {
		return id, false
	}
	return customFallback[id-MaxOriginalBlock-1], true
}

// BlockDefinition describes a custom block sent to clients that support
// block definitions.
type BlockDefinition struct {
	ID            uint16 `yaml:"id"`
	Name          string `yaml:"name"`
	Solidity      int    `yaml:"solidity"`
	MovementSpeed int    `yaml:"movement_speed"`
	TextureTop    int    `yaml:"texture_top"`
	TextureLeft   int    `yaml:"texture_left"`
	TextureRight  int    `yaml:"texture_right"`
	TextureFront  int    `yaml:"texture_front"`
	TextureBack   int    `yaml:"texture_back"`
	TextureBottom int    `yaml:"texture_bottom"`
	EmitsLight    bool   `yaml:"emits_light"`
	WalkSound     int    `yaml:"walk_sound"`
	FullBright    bool   `yaml:"full_bright"`
	Min           [3]int `yaml:"min"`
	Max           [3]int `yaml:"max"`
	Draw          int    `yaml:"draw"`
	FogDensity    int    `yaml:"fog_density"`
	Fog           [3]int `yaml:"fog"`
}

// Block draw modes.
const (
	DrawOpaque      = 0
	DrawTransparent = 1
	DrawSprite      = 4
)

// Sprite reports whether the block is drawn as a cross-shaped sprite.
func (d BlockDefinition) Sprite() bool {
	return d.Draw == DrawSprite
}
