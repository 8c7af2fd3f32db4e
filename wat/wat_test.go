package wat

import (
	"context"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func TestCompile(t *testing.T) {
	t.Run("empty_module", func(t *testing.T) {
		wasm, err := Compile("(module)")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if len(wasm) != 8 {
			t.Errorf("expected 8 bytes, got %d", len(wasm))
		}
		if wasm[0] != 0x00 || wasm[1] != 0x61 || wasm[2] != 0x73 || wasm[3] != 0x6D {
			t.Error("invalid WASM magic")
		}
	})

	t.Run("memory_export", func(t *testing.T) {
		wasm, err := Compile(`(module (memory (export "memory") 1))`)
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		want := []byte{
			0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
			0x05, 0x03, 0x01, 0x00, 0x01,
			0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		}
		if string(wasm) != string(want) {
			t.Errorf("got % x\nwant % x", wasm, want)
		}
	})
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name, wat, wantErr string
	}{
		{"missing_module", "(func)", "expected 'module'"},
		{"unclosed", "(module", "unexpected end"},
		{"unknown_instr", "(module (func (bogus)))", "unknown instruction"},
		{"unknown_type", "(module (func (param bogus)))", "unknown value type"},
		{"unknown_func", "(module (func (call $nope)))", "unknown identifier"},
		{"late_import", `(module (func) (import "m" "f" (func)))`, "must precede"},
		{"bad_align", "(module (memory 1) (func (drop (i32.load align=3 (i32.const 0)))))", "power of two"},
		{"passive_data", `(module (memory 1) (data "x"))`, "passive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.wat)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q missing %q", err, tt.wantErr)
			}
		})
	}
}

func instantiate(t *testing.T, src string) api.Module {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })

	wasm, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	mod, err := rt.Instantiate(ctx, wasm)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return mod
}

func TestCompile_Executes(t *testing.T) {
	mod := instantiate(t, `(module
		(memory $mem (export "memory") 1)
		(data (i32.const 16) "\2a\00\00\00hi")

		(func $add (param $a i32) (param $b i32) (result i32)
			(i32.add (local.get $a) (local.get $b)))

		;; forward reference to $load
		(func (export "sum") (result i32)
			(call $add (call $load) (i32.const -2)))

		(func $load (result i32)
			(i32.load offset=16 (i32.const 0)))

		(func (export "store") (param i32 i64)
			local.get 0
			local.get 1
			i64.store)

		(func (export "swap") (param i32 i32) (result i32)
			(local $t i32)
			(local.set $t (local.get 0))
			(i32.sub (local.get 1) (local.get $t)))

		(func (export "big") (result i32)
			(i32.const 0xFFFFFFFF))
	)`)
	ctx := context.Background()

	res, err := mod.ExportedFunction("sum").Call(ctx)
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if got := api.DecodeI32(res[0]); got != 40 {
		t.Errorf("sum = %d, want 40", got)
	}

	if _, err := mod.ExportedFunction("store").Call(ctx, 64, 1<<40); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if v, _ := mod.Memory().ReadUint64Le(64); v != 1<<40 {
		t.Errorf("stored %d", v)
	}
	if b, _ := mod.Memory().Read(20, 2); string(b) != "hi" {
		t.Errorf("data segment = %q", b)
	}

	res, err = mod.ExportedFunction("swap").Call(ctx, 3, 10)
	if err != nil {
		t.Fatalf("swap failed: %v", err)
	}
	if res[0] != 7 {
		t.Errorf("swap = %d, want 7", res[0])
	}

	res, err = mod.ExportedFunction("big").Call(ctx)
	if err != nil {
		t.Fatalf("big failed: %v", err)
	}
	if uint32(res[0]) != 0xFFFFFFFF {
		t.Errorf("big = %#x", res[0])
	}
}

func TestCompile_Imports(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	var seen []uint32
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(v uint32) uint32 { seen = append(seen, v); return v * 2 }).
		Export("double").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host module: %v", err)
	}
	if _, err := rt.InstantiateWithConfig(ctx, MustCompile(`(module (memory (export "memory") 2))`),
		wazero.NewModuleConfig().WithName("mem")); err != nil {
		t.Fatalf("memory module: %v", err)
	}

	mod, err := rt.Instantiate(ctx, MustCompile(`(module
		(type $unary (func (param i32) (result i32)))
		(import "env" "double" (func $double (type $unary)))
		(import "mem" "memory" (memory 1))
		(func (export "run") (param i32) (result i32)
			(call $double (local.get 0)))
		(func (export "pages") (result i32)
			memory.size)
	)`))
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	res, err := mod.ExportedFunction("run").Call(ctx, 21)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res[0] != 42 || len(seen) != 1 || seen[0] != 21 {
		t.Errorf("run = %d, seen %v", res[0], seen)
	}
	res, err = mod.ExportedFunction("pages").Call(ctx)
	if err != nil {
		t.Fatalf("pages failed: %v", err)
	}
	if res[0] != 2 {
		t.Errorf("pages = %d, want 2", res[0])
	}
}
