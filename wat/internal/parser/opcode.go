package parser

type immKind int

const (
	immNone   immKind = iota
	immLocal          // local.get, local.set, local.tee
	immFunc           // call
	immI32            // i32.const
	immI64            // i64.const
	immMemarg         // loads and stores
	immMemIdx         // memory.size, memory.grow
)

type opInfo struct {
	opcode byte
	imm    immKind
	// natural alignment as a log2 byte count, for memory access
	align uint32
}

var ops = map[string]opInfo{
	"unreachable": {0x00, immNone, 0},
	"nop":         {0x01, immNone, 0},
	"return":      {0x0F, immNone, 0},
	"call":        {0x10, immFunc, 0},
	"drop":        {0x1A, immNone, 0},

	"local.get": {0x20, immLocal, 0},
	"local.set": {0x21, immLocal, 0},
	"local.tee": {0x22, immLocal, 0},

	"i32.load":     {0x28, immMemarg, 2},
	"i64.load":     {0x29, immMemarg, 3},
	"f32.load":     {0x2A, immMemarg, 2},
	"f64.load":     {0x2B, immMemarg, 3},
	"i32.load8_u":  {0x2D, immMemarg, 0},
	"i32.load16_u": {0x2F, immMemarg, 1},
	"i32.store":    {0x36, immMemarg, 2},
	"i64.store":    {0x37, immMemarg, 3},
	"f32.store":    {0x38, immMemarg, 2},
	"f64.store":    {0x39, immMemarg, 3},
	"i32.store8":   {0x3A, immMemarg, 0},
	"i32.store16":  {0x3B, immMemarg, 1},
	"memory.size":  {0x3F, immMemIdx, 0},
	"memory.grow":  {0x40, immMemIdx, 0},

	"i32.const": {0x41, immI32, 0},
	"i64.const": {0x42, immI64, 0},

	"i32.eqz":   {0x45, immNone, 0},
	"i32.eq":    {0x46, immNone, 0},
	"i32.ne":    {0x47, immNone, 0},
	"i32.lt_u":  {0x49, immNone, 0},
	"i32.gt_u":  {0x4B, immNone, 0},
	"i32.add":   {0x6A, immNone, 0},
	"i32.sub":   {0x6B, immNone, 0},
	"i32.mul":   {0x6C, immNone, 0},
	"i32.and":   {0x71, immNone, 0},
	"i32.or":    {0x72, immNone, 0},
	"i32.shl":   {0x74, immNone, 0},
	"i32.shr_u": {0x76, immNone, 0},
	"i64.add":   {0x7C, immNone, 0},

	"i32.wrap_i64":     {0xA7, immNone, 0},
	"i64.extend_i32_u": {0xAD, immNone, 0},
}
