/*
Demo application for the lumen renderer core: a single hardware
ray-traced triangle with orbit camera controls.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pixelcollider/lumen/engine"
	"github.com/pixelcollider/lumen/engine/renderer/vulkan"
	"github.com/pixelcollider/lumen/engine/scene"
)

func main() {
	app, err := engine.New("lumen.toml")
	if err != nil {
		panic(err)
	}

	meshes := []scene.MeshData{*scene.Triangle()}
	instances := []scene.Instance{
		scene.NewInstance(0, mgl32.Ident4()),
	}
	materials := []vulkan.Material{
		{
			Albedo:    [4]float32{0.9, 0.3, 0.2, 1},
			Roughness: 0.4,
			IOR:       1.45,
		},
	}
	if err := app.LoadScene(meshes, instances, materials); err != nil {
		app.Shutdown()
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		app.Quit()
	}()

	if err := app.Run(); err != nil {
		app.Shutdown()
		panic(err)
	}
	app.Shutdown()
}
